// Package protocol defines the shared engine boundary types: the uniform
// action result, the typed domain events fanned out to observers, and the
// closed set of decision-layer action kinds.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Result is what every public engine operation returns. Business-rule
// failures come back as OK=false with a stable code; errors are reserved
// for unexpected persistence faults.
type Result struct {
	OK      bool           `json:"ok"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func Ok(message string, data map[string]any) Result {
	return Result{OK: true, Message: message, Data: data}
}

func Fail(code, message string) Result {
	return Result{OK: false, Code: code, Message: message}
}

func Failf(code, format string, args ...any) Result {
	return Result{OK: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Internal maps an unexpected persistence fault to a generic failure.
// The underlying error is for logs only; callers see a flat message.
func Internal(error) Result {
	return Result{OK: false, Code: ErrInternal, Message: "internal error"}
}

// Broadcast channels. Admin subscribers receive every channel.
const (
	ChannelMarket       = "market"
	ChannelTrades       = "trades"
	ChannelSocial       = "social"
	ChannelAlliances    = "alliances"
	ChannelEliminations = "eliminations"
	ChannelEvents       = "events"
	ChannelWhispers     = "whispers"
	ChannelCovert       = "covert"
	ChannelLeaderboard  = "leaderboard"
	ChannelAdmin        = "admin"
)

var knownChannels = map[string]struct{}{
	ChannelMarket:       {},
	ChannelTrades:       {},
	ChannelSocial:       {},
	ChannelAlliances:    {},
	ChannelEliminations: {},
	ChannelEvents:       {},
	ChannelWhispers:     {},
	ChannelCovert:       {},
	ChannelLeaderboard:  {},
	ChannelAdmin:        {},
}

func IsKnownChannel(name string) bool {
	_, ok := knownChannels[name]
	return ok
}

// Event is a typed domain event emitted by an engine after a state change.
type Event struct {
	ID      string         `json:"id"`
	Channel string         `json:"channel"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

func NewEvent(channel, typ string, data map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Channel: channel,
		Type:    typ,
		Data:    data,
		At:      time.Now().UTC(),
	}
}

// Publisher delivers events to the fan-out layer. Implementations must not
// block the calling engine.
type Publisher interface {
	Publish(Event)
}

// NopPublisher discards events. Used by tests and the admin CLI.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
