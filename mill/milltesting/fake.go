// Package milltesting provides a plaintext stand-in for the cryptographic
// transforms, so the pipeline around them can be tested end to end.
package milltesting

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// FakeCrypto tags its input instead of encrypting it, making every
// intermediate artifact readable in test assertions. It records the
// operations invoked, in order.
type FakeCrypto struct {
	mu    sync.Mutex
	calls []string
}

// Calls returns the operations invoked so far.
func (f *FakeCrypto) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeCrypto) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func tag(op string, in []byte) []byte {
	return []byte(fmt.Sprintf("%s(%s)", op, in))
}

func (f *FakeCrypto) AddNoise(_ context.Context, sketch []byte) ([]byte, error) {
	f.record("AddNoise")
	return tag("noised", sketch), nil
}

func (f *FakeCrypto) AppendSketchesAndAddNoise(_ context.Context, sketches [][]byte) ([]byte, error) {
	f.record("AppendSketchesAndAddNoise")
	return tag("concat", bytes.Join(sketches, []byte("|"))), nil
}

func (f *FakeCrypto) BlindPositions(_ context.Context, sketch []byte) ([]byte, error) {
	f.record("BlindPositions")
	return tag("blinded", sketch), nil
}

func (f *FakeCrypto) BlindPositionsAndJoinRegisters(_ context.Context, sketch []byte) ([]byte, error) {
	f.record("BlindPositionsAndJoinRegisters")
	return tag("joined", sketch), nil
}

func (f *FakeCrypto) DecryptFlagCounts(_ context.Context, flagCounts []byte) ([]byte, error) {
	f.record("DecryptFlagCounts")
	return tag("decrypted", flagCounts), nil
}

func (f *FakeCrypto) DecryptFlagCountsAndComputeMetrics(_ context.Context, flagCounts []byte) ([]byte, error) {
	f.record("DecryptFlagCountsAndComputeMetrics")
	return tag("metrics", flagCounts), nil
}
