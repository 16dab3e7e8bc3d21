// Package media derives size-bounded transport variants from captured
// assets so re-sent history context stays cheap to upload.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding for captured screenshots

	xdraw "golang.org/x/image/draw"
)

const (
	// maxTransportDim bounds the longest edge of a transport variant.
	maxTransportDim = 1024
	// transportQuality is the JPEG quality for transport variants.
	transportQuality = 75
)

// DeriveTransportVariant lossily resizes and recompresses image bytes
// into a transport variant. Non-image payloads (audio, video) pass
// through unchanged; they are bounded at capture time instead.
func DeriveTransportVariant(data []byte, mimeType string) ([]byte, string, error) {
	if !isImageMIME(mimeType) {
		return data, mimeType, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", mimeType, err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxTransportDim || h > maxTransportDim {
		scale := float64(maxTransportDim) / float64(max(w, h))
		dw, dh := int(float64(w)*scale), int(float64(h)*scale)
		if dw < 1 {
			dw = 1
		}
		if dh < 1 {
			dh = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
		src = dst
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, src, &jpeg.Options{Quality: transportQuality}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), "image/jpeg", nil
}

func isImageMIME(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
		return true
	}
	return false
}
