package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 8 {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDeriveTransportVariantDownscales(t *testing.T) {
	data := encodePNG(t, 2048, 512)

	out, mime, err := DeriveTransportVariant(data, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	bounds := decoded.Bounds()
	assert.Equal(t, 1024, bounds.Dx())
	assert.Equal(t, 256, bounds.Dy())
}

func TestDeriveTransportVariantKeepsSmallDimensions(t *testing.T) {
	data := encodePNG(t, 640, 480)

	out, mime, err := DeriveTransportVariant(data, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 640, decoded.Bounds().Dx())
	assert.Equal(t, 480, decoded.Bounds().Dy())
}

func TestDeriveTransportVariantPassesThroughNonImages(t *testing.T) {
	data := []byte("webm container bytes")
	out, mime, err := DeriveTransportVariant(data, "video/webm")
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, "video/webm", mime)
}

func TestDeriveTransportVariantRejectsCorruptImage(t *testing.T) {
	_, _, err := DeriveTransportVariant([]byte{0x00, 0x01, 0x02}, "image/png")
	assert.Error(t, err)
}
