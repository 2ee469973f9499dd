// Package images normalizes uploaded avatar images to the stored format.
package images

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// AvatarSize is the width and height, in pixels, every stored avatar is
// scaled to.
const AvatarSize = 250

// ErrInvalidImage is returned when the uploaded bytes cannot be decoded as
// a supported image.
var ErrInvalidImage = errors.New("please upload an image")

// Normalize decodes an uploaded JPEG or PNG and re-encodes it as a PNG
// scaled to exactly AvatarSize x AvatarSize.
func Normalize(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrInvalidImage
	}

	dst := image.NewRGBA(image.Rect(0, 0, AvatarSize, AvatarSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
