// Package news polls an HTTP endpoint for market news and publishes
// new articles downstream. It runs an independent loop with no
// protocol state beyond the last article seen.
package news

import (
	"context"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"go_tickstream/feed/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds poller settings.
type Config struct {
	URL               string
	Token             string
	PollInterval      time.Duration
	RequestsPerMinute int
}

// Poller fetches the news endpoint on a fixed cadence, paced by a rate
// limiter so restarts cannot burst requests at the provider.
type Poller struct {
	cfg       Config
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
	onArticle func(types.Article)
	lastID    int64

	onPoll func()
}

// wireArticle is one article as served by the endpoint.
type wireArticle struct {
	ID       int64  `json:"id"`
	Headline string `json:"headline"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"` // unix seconds
}

// Option customizes a Poller.
type Option func(*Poller)

// WithHTTPClient replaces the HTTP client, e.g. for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) { p.client = c }
}

// WithPollHook observes each completed poll, e.g. for metrics.
func WithPollHook(fn func()) Option {
	return func(p *Poller) { p.onPoll = fn }
}

// NewPoller creates a poller. onArticle may be nil.
func NewPoller(cfg Config, logger *zap.Logger, onArticle func(types.Article), opts ...Option) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Poller{
		cfg:       cfg,
		client:    &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
		logger:    logger,
		onArticle: onArticle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	// First poll immediately rather than one interval in.
	p.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	articles, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn("news poll failed", zap.Error(err))
		return
	}
	if p.onPoll != nil {
		p.onPoll()
	}

	maxID := p.lastID
	for _, a := range articles {
		if a.ID <= p.lastID {
			continue
		}
		if a.ID > maxID {
			maxID = a.ID
		}
		if p.onArticle != nil {
			p.onArticle(types.Article{
				ID:       a.ID,
				Headline: a.Headline,
				Source:   a.Source,
				URL:      a.URL,
				At:       time.Unix(a.Datetime, 0),
			})
		}
	}
	p.lastID = maxID
}

func (p *Poller) fetch(ctx context.Context) ([]wireArticle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build news request")
	}
	if p.cfg.Token != "" {
		q := req.URL.Query()
		q.Set("token", p.cfg.Token)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch news")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("news endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read news body")
	}

	var articles []wireArticle
	if err := json.Unmarshal(body, &articles); err != nil {
		return nil, errors.Wrap(err, "decode news body")
	}
	return articles, nil
}
