package coder

import "github.com/iqua-toronto/siphon/minion"

func init() { Register(directPassFactory{}) }

// directPassFactory builds the trivial no-op coder: payload passes
// through unmodified, coding_parameters stays zero. It is the UDP link's
// default when no forward-error-correction is configured.
type directPassFactory struct{}

func (directPassFactory) Name() string        { return "DirectPass" }
func (directPassFactory) NewEncoder() Encoder { return &directPassEncoder{} }
func (directPassFactory) NewDecoder() Decoder { return &directPassDecoder{} }

type directPassEncoder struct{}

func (e *directPassEncoder) Encode(m *minion.Minion) bool {
	m.Message.Header.CodingParameters = 0
	return true
}

func (e *directPassEncoder) SetParameters(Params) {}
func (e *directPassEncoder) LastEncoded() Params  { return 0 }

type directPassDecoder struct{}

func (d *directPassDecoder) Decode(*minion.Minion) bool { return true }
func (d *directPassDecoder) EncodedParameters() Params  { return 0 }
