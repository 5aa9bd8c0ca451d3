package imagecache

import (
	"bytes"
	"image"
	"image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// StdDecoder decodes payloads with the standard image codecs. GIF,
// JPEG and PNG are registered; callers needing more formats register
// them with image.RegisterFormat or supply their own Decoder.
type StdDecoder struct{}

func (StdDecoder) Decode(data []byte) (*Image, error) {
	bitmap, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &Image{Bitmap: bitmap, Data: data}, nil
}

// Normalize redraws the bitmap into RGBA so later consumers get one
// predictable pixel layout regardless of the source format.
func (StdDecoder) Normalize(img *Image) (*Image, error) {
	if img == nil || img.Bitmap == nil {
		return img, nil
	}
	if _, ok := img.Bitmap.(*image.RGBA); ok {
		return img, nil
	}
	bounds := img.Bitmap.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img.Bitmap, bounds.Min, draw.Src)
	return &Image{
		Bitmap:       rgba,
		Data:         img.Data,
		TransformKey: img.TransformKey,
	}, nil
}
