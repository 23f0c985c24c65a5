// Package notifier delivers email notifications for trading signals
// and connection-loss events through a simple FIFO queue.
package notifier

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"go_tickstream/feed/pkg/types"
)

// Config holds SMTP and queue settings.
type Config struct {
	SMTPHost  string
	SMTPPort  int
	Username  string
	Password  string
	From      string
	To        []string
	QueueSize int
}

// Message is one queued email.
type Message struct {
	Subject string
	Body    string
}

// SendFunc delivers one message. Injectable for tests.
type SendFunc func(msg Message) error

// Mailer drains a bounded FIFO queue on a single goroutine. Enqueueing
// never blocks: when the queue is full the message is dropped and
// counted, which keeps event producers decoupled from SMTP latency.
type Mailer struct {
	cfg    Config
	send   SendFunc
	queue  chan Message
	done   chan struct{}
	logger *zap.Logger

	onSent   func()
	onFailed func()
}

// Option customizes a Mailer.
type Option func(*Mailer)

// WithSendFunc replaces the SMTP sender.
func WithSendFunc(fn SendFunc) Option {
	return func(m *Mailer) { m.send = fn }
}

// WithDeliveryHooks observes delivery outcomes, e.g. for metrics.
func WithDeliveryHooks(onSent, onFailed func()) Option {
	return func(m *Mailer) {
		m.onSent = onSent
		m.onFailed = onFailed
	}
}

// NewMailer creates a mailer and starts its dispatch goroutine.
func NewMailer(cfg Config, logger *zap.Logger, opts ...Option) *Mailer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Mailer{
		cfg:    cfg,
		queue:  make(chan Message, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	m.send = m.sendSMTP
	for _, opt := range opts {
		opt(m)
	}

	go m.dispatchLoop()
	return m
}

// Close stops the dispatch goroutine after draining queued messages.
func (m *Mailer) Close() {
	close(m.queue)
	<-m.done
}

// Enqueue queues a message. Never blocks; drops when full.
func (m *Mailer) Enqueue(msg Message) {
	select {
	case m.queue <- msg:
	default:
		m.logger.Warn("notification queue full, dropping message",
			zap.String("subject", msg.Subject))
	}
}

// NotifySignal queues a notification for a trading signal.
func (m *Mailer) NotifySignal(sig types.Signal) {
	m.Enqueue(Message{
		Subject: fmt.Sprintf("[tickfeed] %s %s @ %.4f", sig.Action, sig.Symbol, sig.Price),
		Body: fmt.Sprintf("Signal: %s %s at %.4f (%s)",
			sig.Action, sig.Symbol, sig.Price, sig.At.Format(time.RFC3339)),
	})
}

// NotifyConnectionLost queues a notification for terminal reconnect
// failure.
func (m *Mailer) NotifyConnectionLost() {
	m.Enqueue(Message{
		Subject: "[tickfeed] upstream connection lost",
		Body:    "The market data connection failed permanently and requires a restart.",
	})
}

func (m *Mailer) dispatchLoop() {
	defer close(m.done)

	for msg := range m.queue {
		if err := m.send(msg); err != nil {
			m.logger.Error("send notification", zap.Error(err),
				zap.String("subject", msg.Subject))
			if m.onFailed != nil {
				m.onFailed()
			}
			continue
		}
		if m.onSent != nil {
			m.onSent()
		}
	}
}

func (m *Mailer) sendSMTP(msg Message) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.cfg.From, strings.Join(m.cfg.To, ", "), msg.Subject, msg.Body)

	return smtp.SendMail(addr, auth, m.cfg.From, m.cfg.To, []byte(body))
}
