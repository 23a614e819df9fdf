package coder

import (
	"sync"

	"github.com/iqua-toronto/siphon/minion"
)

func init() { Register(testFactory{}) }

// testFactory builds the deterministic fixture coder used by spec.md §8's
// ack-feedback scenario: the encoder starts at {T:1,B:1,N:1,counter:0} and
// increments its counter on every Encode; the decoder echoes
// observed_params + 0x01010101 as the piggyback it publishes.
type testFactory struct{}

func (testFactory) Name() string       { return "test" }
func (testFactory) NewEncoder() Encoder { return newTestEncoder() }
func (testFactory) NewDecoder() Decoder { return &testDecoder{} }

type testEncoder struct {
	mu       sync.Mutex
	t, b, n  uint8
	counter  uint8
	lastSent Params
}

func newTestEncoder() *testEncoder {
	return &testEncoder{t: 1, b: 1, n: 1}
}

func (e *testEncoder) Encode(m *minion.Minion) bool {
	e.mu.Lock()
	p := NewParams(e.t, e.b, e.n, e.counter)
	e.lastSent = p
	e.counter++
	e.mu.Unlock()

	m.Message.Header.CodingParameters = uint32(p)
	return true
}

func (e *testEncoder) SetParameters(p Params) {
	e.mu.Lock()
	e.counter = p.Counter()
	e.mu.Unlock()
}

func (e *testEncoder) LastEncoded() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSent
}

type testDecoder struct {
	mu     sync.Mutex
	params Params
}

func (d *testDecoder) Decode(m *minion.Minion) bool {
	d.mu.Lock()
	d.params = Params(m.Message.Header.CodingParameters + 0x01010101)
	d.mu.Unlock()
	return true
}

func (d *testDecoder) EncodedParameters() Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}
