// Package mill works the local stages of a computation: it claims tokens
// sitting in a TO_* stage, runs the cryptographic transform over their input
// blobs, persists the result and hands the produced artifact to the next
// duchy.
package mill

import "context"

// CryptoWorker performs the pure transforms of the liquid legions protocol.
// Implementations are stateless; every call gets the full input and returns
// the full output. The mill never inspects the bytes it shuttles around.
type CryptoWorker interface {
	// AddNoise adds this duchy's noise registers to its own raw sketch.
	AddNoise(ctx context.Context, sketch []byte) ([]byte, error)
	// AppendSketchesAndAddNoise combines all collected sketches into the
	// concatenated sketch, adding the aggregator's noise. Primary only.
	AppendSketchesAndAddNoise(ctx context.Context, sketches [][]byte) ([]byte, error)
	// BlindPositions re-encrypts the register positions of the concatenated
	// sketch under this duchy's key.
	BlindPositions(ctx context.Context, sketch []byte) ([]byte, error)
	// BlindPositionsAndJoinRegisters additionally joins same-position
	// registers and produces the encrypted flag and count pairs. Primary only.
	BlindPositionsAndJoinRegisters(ctx context.Context, sketch []byte) ([]byte, error)
	// DecryptFlagCounts strips one layer of encryption from the flag and
	// count pairs.
	DecryptFlagCounts(ctx context.Context, flagCounts []byte) ([]byte, error)
	// DecryptFlagCountsAndComputeMetrics strips the last layer and computes
	// the final reach and frequency estimates. Primary only.
	DecryptFlagCountsAndComputeMetrics(ctx context.Context, flagCounts []byte) ([]byte, error)
}
