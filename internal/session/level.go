package session

import (
	"encoding/binary"
	"math"
)

const (
	levelStride = 4
	// levelCeiling is the RMS amplitude that maps to a full meter
	levelCeiling = 8000.0
)

// ComputeLevel returns an approximate input level in [0,1] for a chunk of
// little-endian 16-bit samples, sampling every 4th sample.
func ComputeLevel(chunk []byte) float64 {
	samples := len(chunk) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	var n int
	for i := 0; i < samples; i += levelStride {
		v := float64(int16(binary.LittleEndian.Uint16(chunk[i*2:])))
		sum += v * v
		n++
	}

	rms := math.Sqrt(sum / float64(n))
	level := rms / levelCeiling
	if level > 1 {
		return 1
	}
	return level
}
