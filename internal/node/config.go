package node

import "time"

const (
	// DefaultInternalProb is the probability of an internal event on a tick
	// with an empty queue.
	DefaultInternalProb = 0.7

	// DefaultDialAttempts bounds the connection attempts per peer.
	DefaultDialAttempts = 10

	// DefaultDialBackoff is the fixed pause between attempts to the same peer.
	DefaultDialBackoff = time.Second
)

// Config holds the static parameters of a node. It is passed by value to New
// and never mutated afterwards.
type Config struct {
	// ID identifies the node within a run. It prefixes enriched wire messages.
	ID int

	// TickRate is the number of scheduling ticks per second.
	TickRate int

	// InternalProb is the probability in [0,1] that an idle tick is an internal event.
	InternalProb float64

	// ListenAddr is the host:port the node accepts peer connections on.
	// Ignored when a listener is injected with WithListener.
	ListenAddr string

	// Peers are the endpoints this node dials, in order. The order defines
	// the peer indices used by targeted sends.
	Peers []string

	// DialAttempts is the maximum number of connection attempts per peer.
	DialAttempts int

	// DialBackoff is the pause between two attempts to the same peer.
	DialBackoff time.Duration

	// Enriched prefixes outgoing messages with "<ID>:".
	Enriched bool
}

// DefaultConfig returns a config with the documented defaults and tick rate 1.
func DefaultConfig() Config {
	return Config{
		TickRate:     1,
		InternalProb: DefaultInternalProb,
		ListenAddr:   "127.0.0.1:0",
		DialAttempts: DefaultDialAttempts,
		DialBackoff:  DefaultDialBackoff,
	}
}

// Validate checks the config and returns an *Error with ErrCodeConfig on failure.
func (c Config) Validate() error {
	if c.ID < 0 {
		return newConfigError("id must be non-negative, got %d", c.ID)
	}
	if c.TickRate < 1 {
		return newConfigError("tick rate must be at least 1, got %d", c.TickRate)
	}
	if c.InternalProb < 0 || c.InternalProb > 1 {
		return newConfigError("internal event probability must be in [0,1], got %v", c.InternalProb)
	}
	if c.DialAttempts < 1 {
		return newConfigError("dial attempts must be at least 1, got %d", c.DialAttempts)
	}
	if c.DialBackoff < 0 {
		return newConfigError("dial backoff must be non-negative, got %s", c.DialBackoff)
	}
	for i, p := range c.Peers {
		if p == "" {
			return newConfigError("peer %d has an empty address", i)
		}
	}
	return nil
}

// Period is the minimum spacing between two ticks.
func (c Config) Period() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
