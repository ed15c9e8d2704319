// Package imagex decodes the images that clients send us
package imagex

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrBadImage is wrapped by every error that is the fault of the client's payload
var ErrBadImage = errors.New("Bad image")

// DecodeBase64 decodes a base64 encoded image. s may be raw base64, or a data URL
// such as "data:image/jpeg;base64,...". Both the standard and the URL-safe alphabets
// are accepted, with or without padding.
// If mimeType is not empty, it must start with "image/".
// The result is always 8-bit non-premultiplied RGBA, in the stored pixel layout.
// EXIF orientation is ignored, so boxes and image size refer to the pixels as encoded.
func DecodeBase64(s, mimeType string) (*image.NRGBA, error) {
	if mimeType != "" && !strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return nil, fmt.Errorf("%w: mime type '%v' is not an image", ErrBadImage, mimeType)
	}
	payload, err := stripDataURL(s)
	if err != nil {
		return nil, err
	}
	raw, err := DecodeBase64Bytes(payload)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode decodes an encoded image file (PNG, JPEG, GIF, BMP, WebP)
func Decode(raw []byte) (*image.NRGBA, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrBadImage)
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrBadImage)
	}
	return ToNRGBA(img), nil
}

// ToNRGBA returns img if it is already an NRGBA image with origin at (0,0), or a converted copy
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// DecodeBase64Bytes decodes standard or URL-safe base64, with or without padding.
// Whitespace (such as line breaks inserted by some encoders) is ignored.
func DecodeBase64Bytes(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty base64 payload", ErrBadImage)
	}
	s = strings.TrimRight(s, "=")
	enc := base64.RawStdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.RawURLEncoding
	}
	raw, err := enc.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrBadImage, err)
	}
	return raw, nil
}

// Returns the base64 payload of a data URL, or s unchanged if it's not a data URL
func stripDataURL(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s, nil
	}
	comma := strings.IndexByte(s, ',')
	if comma == -1 {
		return "", fmt.Errorf("%w: data URL has no payload", ErrBadImage)
	}
	header := s[len("data:"):comma]
	if !strings.HasSuffix(header, ";base64") {
		return "", fmt.Errorf("%w: data URL is not base64 encoded", ErrBadImage)
	}
	mime := strings.TrimSuffix(header, ";base64")
	if mime != "" && !strings.HasPrefix(strings.ToLower(mime), "image/") {
		return "", fmt.Errorf("%w: data URL type '%v' is not an image", ErrBadImage, mime)
	}
	return s[comma+1:], nil
}
