package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	// Extra decoders so uploads are not limited to png and jpeg
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrDecode = errors.New("cannot decode image")

// ImageToJpgBuffer Convert and image to a jpg buffer to write to output
func ImageToJpgBuffer(image image.Image, options *jpeg.Options) (*[]byte, error) {
	buf := new(bytes.Buffer)

	err := jpeg.Encode(buf, image, options)
	if err != nil {
		return nil, errors.New("jpeg encode error")
	}
	Buffer := buf.Bytes()
	return &Buffer, nil
}

// ImageToPngBuffer Convert and image to a png buffer to write to output
func ImageToPngBuffer(image image.Image) (*[]byte, error) {
	buf := new(bytes.Buffer)

	err := png.Encode(buf, image)
	if err != nil {
		return nil, errors.New("png encode error")
	}
	Buffer := buf.Bytes()
	return &Buffer, nil
}

// ImageToBase64 Encode an image as png (imageType "png") or jpg (anything else) and return it base64 encoded
func ImageToBase64(img image.Image, imageType string) (string, error) {
	var buffer *[]byte
	var err error
	if imageType == "png" {
		buffer, err = ImageToPngBuffer(img)
	} else {
		buffer, err = ImageToJpgBuffer(img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(*buffer), nil
}

// MaxImagePixels Largest accepted width * height of an uploaded image
const MaxImagePixels = 50_000_000

// DecodeNRGBA Decode an uploaded image and convert it to non premultiplied RGBA,
// images without alpha become fully opaque
func DecodeNRGBA(data []byte) (*image.NRGBA, string, error) {
	if len(data) == 0 {
		return nil, "", ErrDecode
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrDecode, err.Error())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, "", fmt.Errorf("%w: %dx%d pixels exceeds the limit of %d", ErrDecode, cfg.Width, cfg.Height, MaxImagePixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrDecode, err.Error())
	}
	return ToNRGBA(img), format, nil
}

// ToNRGBA Copy any image into a new NRGBA image with origin (0, 0)
func ToNRGBA(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)
	return nrgba
}
