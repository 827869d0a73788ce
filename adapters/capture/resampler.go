package capture

import (
	"encoding/binary"

	"github.com/satriahrh/arunika/copilot/domain/entities"
)

// frameResampler converts mono int16 PCM at an arbitrary rate into 16 kHz
// little-endian frames of entities.FrameBytes bytes.
type frameResampler struct {
	step float64 // input samples per output sample

	// pos is the input position of the next output sample, relative to prev
	pos     float64
	prev    int16
	hasPrev bool

	pending []int16
}

func newFrameResampler(inRate int) *frameResampler {
	if inRate <= 0 {
		inRate = entities.CanonicalSampleRate
	}
	return &frameResampler{
		step:    float64(inRate) / float64(entities.CanonicalSampleRate),
		pending: make([]int16, 0, entities.FrameSamples*2),
	}
}

// Push consumes input samples and returns every complete output frame.
// Returned frames are freshly allocated.
func (r *frameResampler) Push(in []int16) [][]byte {
	if len(in) == 0 {
		return nil
	}

	if r.step == 1 {
		r.pending = append(r.pending, in...)
		return r.drain()
	}

	// Index 0 of the virtual buffer is prev when present, so interpolation
	// spans block boundaries.
	offset := 0
	if r.hasPrev {
		offset = 1
	}
	last := float64(len(in) - 1 + offset)
	at := func(i int) int16 {
		if r.hasPrev {
			if i == 0 {
				return r.prev
			}
			return in[i-1]
		}
		return in[i]
	}

	for r.pos <= last {
		i := int(r.pos)
		frac := r.pos - float64(i)
		v := float64(at(i))
		if frac > 0 && float64(i+1) <= last {
			v += (float64(at(i+1)) - v) * frac
		}
		r.pending = append(r.pending, int16(v))
		r.pos += r.step
	}

	r.pos -= last
	r.prev = in[len(in)-1]
	r.hasPrev = true
	return r.drain()
}

func (r *frameResampler) drain() [][]byte {
	var frames [][]byte
	for len(r.pending) >= entities.FrameSamples {
		frame := make([]byte, entities.FrameBytes)
		for i, s := range r.pending[:entities.FrameSamples] {
			binary.LittleEndian.PutUint16(frame[i*2:], uint16(s))
		}
		frames = append(frames, frame)
		r.pending = append(r.pending[:0], r.pending[entities.FrameSamples:]...)
	}
	return frames
}
