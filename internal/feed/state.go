package feed

import (
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// State is the per-symbol ingestion state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StatePolling
	StateFallbackSynthetic
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StatePolling:
		return "polling"
	case StateFallbackSynthetic:
		return "fallback_synthetic"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// MarshalText renders the state name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of one symbol worker.
type Status struct {
	Symbol            domain.Symbol `json:"symbol"`
	State             State         `json:"state"`
	Degraded          bool          `json:"degraded"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastSource        string        `json:"last_source,omitempty"`
	LastUpdate        time.Time     `json:"last_update"`
	Delivered         uint64        `json:"delivered"`
}
