package audio

import (
	"encoding/binary"
	"math"
)

// ClampVolume limits v to [MinVolume, MaxVolume]. NaN maps to unity gain.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 1.0
	}
	return max(MinVolume, min(MaxVolume, v))
}

// PercentToVolume converts a 0–200 percentage into a clamped multiplier.
func PercentToVolume(percent int) float64 {
	return ClampVolume(float64(percent) / 100)
}

// ScaleVolume multiplies every little-endian int16 sample in pcm by v, in
// place, clamping to the int16 range so loud input never wraps around.
// A trailing odd byte is left untouched. Exact unity gain is a no-op.
func ScaleVolume(pcm []byte, v float64) {
	if v == 1.0 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		scaled := s * v
		switch {
		case scaled > math.MaxInt16:
			scaled = math.MaxInt16
		case scaled < math.MinInt16:
			scaled = math.MinInt16
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(scaled)))
	}
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return pcm
}
