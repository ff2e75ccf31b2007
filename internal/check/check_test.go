package check

import (
	"image"
	"image/color"
	"testing"

	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func solid(seq uint64, v uint8) source.Frame {
	return source.Frame{Seq: seq, Image: imaging.New(32, 24, color.NRGBA{R: v, G: v, B: v, A: 255})}
}

func TestHammingDetectsFrozenStream(t *testing.T) {
	h := NewHamming(0)

	assert.True(t, h.Check(solid(0, 10)), "first frame passes")
	assert.False(t, h.Check(solid(1, 10)), "identical frame fails")
	assert.Equal(t, 0.0, h.Last())
	assert.True(t, h.Check(solid(2, 200)), "changed frame passes")
	assert.Equal(t, 1.0, h.Last())
}

func TestHammingPartialChange(t *testing.T) {
	h := NewHamming(0.3)

	base := image.NewGray(image.Rect(0, 0, 160, 10))
	h.Check(source.Frame{Image: base})

	changed := image.NewGray(image.Rect(0, 0, 160, 10))
	for x := 0; x < 40; x++ {
		for y := 0; y < 10; y++ {
			changed.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	assert.False(t, h.Check(source.Frame{Image: changed}), "25% changed is below 0.3")
	assert.InDelta(t, 0.25, h.Last(), 0.01)
}

func TestHammingSizeChange(t *testing.T) {
	h := NewHamming(0)
	h.Check(source.Frame{Image: image.NewGray(image.Rect(0, 0, 160, 10))})
	assert.Equal(t, 1.0, h.Distance(source.Frame{Image: image.NewGray(image.Rect(0, 0, 160, 20))}))
}

func TestExpression(t *testing.T) {
	e, err := NewExpression("frame.diff > 0.001 && frame.width == 32", zap.NewNop())
	require.NoError(t, err)

	assert.True(t, e.Check(solid(0, 10)))
	assert.False(t, e.Check(solid(1, 10)))
	assert.True(t, e.Check(solid(2, 90)))
}

func TestExpressionRejectsInvalid(t *testing.T) {
	_, err := NewExpression("frame.diff >", zap.NewNop())
	assert.Error(t, err)

	_, err = NewExpression("", zap.NewNop())
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyWarn, p)

	p, err = ParsePolicy("Restart")
	require.NoError(t, err)
	assert.Equal(t, PolicyRestart, p)

	_, err = ParsePolicy("explode")
	assert.Error(t, err)
}
