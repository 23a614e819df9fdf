package coder

import (
	"fmt"
	"sync"

	"github.com/iqua-toronto/siphon/minion"
)

// Encoder is the sender-side half of a coder, scoped to one peer-session
// and created lazily on first use.
type Encoder interface {
	// Encode may produce zero, one, or more output messages. A true
	// return means at least one message (the minion's primary message,
	// possibly augmented by minion.Message.Extra) will be transmitted; a
	// false return means the caller should return the minion to the pool
	// without sending anything. Encode must stamp CodingParameters on
	// every message it produces.
	Encode(m *minion.Minion) bool
	// SetParameters applies a hint carried back from the peer decoder
	// (piggybacked on an ack): it resets the encoder's counter while
	// preserving its own {T,B,N} tuning.
	SetParameters(p Params)
	// LastEncoded reports the parameters stamped on the most recently
	// produced output, for feedback-loop observability.
	LastEncoded() Params
}

// Decoder is the receiver-side half of a coder, scoped to one peer-session.
type Decoder interface {
	// Decode consumes one input minion and may produce zero or more
	// outputs in the same swap-and-append shape as Encode. A true return
	// means the minion now carries a delivered message.
	Decode(m *minion.Minion) bool
	// EncodedParameters is the decoder's latest published parameters,
	// piggybacked on the next ack datagram sent to the peer.
	EncodedParameters() Params
}

// Factory constructs a fresh Encoder/Decoder pair for a coder algorithm
// identified by name (config.UDPCoder.CoderName).
type Factory interface {
	Name() string
	NewEncoder() Encoder
	NewDecoder() Decoder
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds f to the set of coders selectable by name. Called from
// each coder implementation's init().
func Register(f Factory) {
	registryMu.Lock()
	registry[f.Name()] = f
	registryMu.Unlock()
}

// Lookup resolves a coder by the name configured in config.UDPCoder.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("coder: unknown coder %q", name)
	}
	return f, nil
}
