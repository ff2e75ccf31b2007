package check

import (
	"image"
	"sync"

	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/disintegration/imaging"
)

const (
	// DefaultThreshold is the minimum fraction of changed pixels for a frame to pass
	DefaultThreshold = 0.001

	// sampleWidth is the width frames are reduced to before comparison
	sampleWidth = 160
)

// Hamming compares each sampled frame with the previous one.
//
// The distance is the fraction of positions whose grayscale value differs,
// computed on a downscaled copy. A stream whose frames stop changing is
// reported as failing. The first frame always passes.
type Hamming struct {
	threshold float64

	mu   sync.Mutex
	prev *image.NRGBA
	last float64
}

// NewHamming creates a hamming check; threshold <= 0 selects DefaultThreshold
func NewHamming(threshold float64) *Hamming {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Hamming{threshold: threshold}
}

// Check reports whether frame differs enough from the previous frame
func (h *Hamming) Check(frame source.Frame) bool {
	return h.Distance(frame) > h.threshold
}

// Distance records frame as the new reference and returns its distance to the
// previous one. The first frame has distance 1.
func (h *Hamming) Distance(frame source.Frame) float64 {
	if frame.Image == nil {
		return 0
	}
	cur := imaging.Grayscale(imaging.Resize(frame.Image, sampleWidth, 0, imaging.Box))

	h.mu.Lock()
	defer h.mu.Unlock()

	d := 1.0
	if h.prev != nil {
		d = distance(h.prev, cur)
	}
	h.prev = cur
	h.last = d
	return d
}

// Last returns the most recent distance
func (h *Hamming) Last() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// distance is the fraction of differing gray values; differently sized images are fully different
func distance(a, b *image.NRGBA) float64 {
	if a.Bounds().Size() != b.Bounds().Size() {
		return 1
	}

	w, hgt := a.Bounds().Dx(), a.Bounds().Dy()
	if w == 0 || hgt == 0 {
		return 0
	}

	differ := 0
	for y := 0; y < hgt; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			if ra[x] != rb[x] {
				differ++
			}
		}
	}
	return float64(differ) / float64(w*hgt)
}
