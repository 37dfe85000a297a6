package audio

import (
	"math"
	"sync"
)

// VAD implements voice-activity detection by RMS energy analysis over a
// smoothing window of recent chunks.
type VAD struct {
	mu sync.Mutex

	threshold float64
	bitDepth  int

	energyHistory []float64
	historyIndex  int
}

// Sample is the VAD verdict for one chunk.
type Sample struct {
	RMS  float64
	Loud bool
}

// NewVAD creates a VAD with the given threshold, smoothing window and
// PCM bit depth.
func NewVAD(threshold float64, smoothingFrames, bitDepth int) *VAD {
	if smoothingFrames <= 0 {
		smoothingFrames = 5
	}
	return &VAD{
		threshold:     threshold,
		bitDepth:      bitDepth,
		energyHistory: make([]float64, smoothingFrames),
	}
}

// Process analyzes a chunk of PCM audio and returns the smoothed verdict.
func (v *VAD) Process(data []byte) Sample {
	v.mu.Lock()
	defer v.mu.Unlock()

	rms := calculateRMS(data, v.bitDepth)

	v.energyHistory[v.historyIndex] = rms
	v.historyIndex = (v.historyIndex + 1) % len(v.energyHistory)

	var sum float64
	for _, e := range v.energyHistory {
		sum += e
	}
	smoothed := sum / float64(len(v.energyHistory))

	return Sample{RMS: smoothed, Loud: smoothed >= v.threshold}
}

// SetThreshold updates the speech threshold, used by config hot reload.
func (v *VAD) SetThreshold(threshold float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.threshold = threshold
}

// Reset clears the smoothing history between recording cycles.
func (v *VAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.historyIndex = 0
	for i := range v.energyHistory {
		v.energyHistory[i] = 0
	}
}

// calculateRMS computes root-mean-square energy over normalized samples.
func calculateRMS(data []byte, bitDepth int) float64 {
	if len(data) == 0 {
		return 0
	}

	var sum float64
	var count int

	switch bitDepth {
	case 16:
		// 16-bit signed little-endian PCM
		for i := 0; i+1 < len(data); i += 2 {
			sample := int16(data[i]) | int16(data[i+1])<<8
			normalized := float64(sample) / 32768.0
			sum += normalized * normalized
			count++
		}
	case 32:
		// 32-bit float PCM
		for i := 0; i+3 < len(data); i += 4 {
			bits := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
			sample := math.Float32frombits(bits)
			sum += float64(sample * sample)
			count++
		}
	default:
		// 8-bit unsigned PCM
		for _, b := range data {
			normalized := (float64(b) - 128.0) / 128.0
			sum += normalized * normalized
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
