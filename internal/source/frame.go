package source

import (
	"image"
	"time"
)

// Frame is a single decoded frame read from a source
type Frame struct {
	// Seq is the position of the frame within its source, starting at 0
	Seq uint64
	// Timestamp is when the frame was read
	Timestamp time.Time
	// Image holds the decoded pixels
	Image image.Image
	// Source identifies the descriptor the frame was read from (credentials redacted)
	Source string
}

// Width returns the frame width in pixels
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Options holds opener parameters that are not part of the descriptor
type Options struct {
	// Width and Height request the decoded frame size where the source can scale
	Width  int
	Height int

	// OpenTimeout bounds how long an opener may wait for the first frame
	OpenTimeout time.Duration
}

// DefaultOpenTimeout is used when Options.OpenTimeout is unset
const DefaultOpenTimeout = 10 * time.Second

// withDefaults fills unset dimensions and the open deadline
func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 640
	}
	if o.Height <= 0 {
		o.Height = 480
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	return o
}

// rgbImage wraps packed rgb24 bytes into an RGBA image
func rgbImage(width, height int, data []byte) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(data) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = data[i]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
