// Package codec translates wire frames to and from domain structures.
// It is stateless: decoding never touches the connection and encoding
// never batches symbols.
package codec

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"go_tickstream/feed/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame kinds recognized on the wire.
const (
	KindTrade = "trade"
	KindPing  = "ping"
)

// ErrUnknownFrame marks an inbound frame whose type is not recognized.
// Callers log and drop the frame; the connection is unaffected.
var ErrUnknownFrame = errors.New("codec: unknown frame type")

// tradeEntry is one element of a trade batch as sent by the upstream.
type tradeEntry struct {
	Symbol     string   `json:"s"`
	Price      float64  `json:"p"`
	Volume     float64  `json:"v"`
	Timestamp  int64    `json:"t"`
	Conditions []string `json:"c"`
}

// inboundFrame is the envelope every inbound frame is parsed into.
type inboundFrame struct {
	Type string       `json:"type"`
	Data []tradeEntry `json:"data"`
}

// outboundFrame is the subscribe/unsubscribe envelope.
type outboundFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// Message is the decoded form of one inbound frame.
type Message struct {
	Kind  string
	Ticks []types.Tick
}

// Decode parses one inbound frame. A trade batch yields one Tick per
// entry, preserving entry order. A ping yields an empty message of kind
// KindPing. Anything else returns an error wrapping ErrUnknownFrame or
// the parse failure; such frames carry no ticks.
func Decode(data []byte) (Message, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Message{}, errors.Wrap(err, "codec: malformed frame")
	}

	switch frame.Type {
	case KindPing:
		return Message{Kind: KindPing}, nil

	case KindTrade:
		ticks := make([]types.Tick, 0, len(frame.Data))
		for _, e := range frame.Data {
			// Trade conditions are accepted on the wire but not surfaced.
			ticks = append(ticks, types.Tick{
				Symbol:      e.Symbol,
				Price:       e.Price,
				Volume:      e.Volume,
				TimestampMs: e.Timestamp,
			})
		}
		return Message{Kind: KindTrade, Ticks: ticks}, nil

	default:
		return Message{}, errors.Wrapf(ErrUnknownFrame, "type %q", frame.Type)
	}
}

// EncodeSubscribe builds a subscribe frame for a single symbol.
func EncodeSubscribe(symbol string) ([]byte, error) {
	return json.Marshal(outboundFrame{Type: "subscribe", Symbol: symbol})
}

// EncodeUnsubscribe builds an unsubscribe frame for a single symbol.
func EncodeUnsubscribe(symbol string) ([]byte, error) {
	return json.Marshal(outboundFrame{Type: "unsubscribe", Symbol: symbol})
}
