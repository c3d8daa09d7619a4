package audio

import "math"

// LevelGain scales the RMS of a frame so that ordinary speech fills most of
// the [0, 1] meter range.
const LevelGain = 5

// Level returns the loudness of a frame for a volume meter: the root mean
// square of the samples multiplied by [LevelGain] and clamped to [0, 1]. An
// empty frame has level 0.
func Level(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	lvl := math.Sqrt(sum/float64(len(frame))) * LevelGain
	if math.IsNaN(lvl) {
		return 0
	}
	return min(lvl, 1)
}
