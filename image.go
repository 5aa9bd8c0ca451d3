package imagecache

import "image"

// Image is the value cached by this package: the decoded bitmap, the
// encoded payload it was produced from, and the identity of the
// transform that shaped it, if any.
type Image struct {
	// Bitmap is the decoded pixel data. It is nil when decoding was
	// skipped, for example for a preload fetch.
	Bitmap image.Image

	// Data is the encoded payload the bitmap came from. It may be nil
	// for transformed images, which exist only in decoded form.
	Data []byte

	// TransformKey identifies the transform that produced this image.
	// Empty means the image is the plain decode of Data.
	TransformKey string
}

// Cost is the memory-tier weight of the image: the bitmap's pixel
// bytes when decoded, otherwise the payload length.
func (im *Image) Cost() int64 {
	if im == nil {
		return 0
	}
	if im.Bitmap != nil {
		bounds := im.Bitmap.Bounds()
		return int64(bounds.Dx()) * int64(bounds.Dy()) * 4
	}
	return int64(len(im.Data))
}

// Decoder turns encoded payloads into images. Decode parses the
// payload; Normalize prepares a decoded image for display, typically
// by converting to a predictable pixel format, and may return the
// input unchanged.
type Decoder interface {
	Decode(data []byte) (*Image, error)
	Normalize(img *Image) (*Image, error)
}

// Transformer edits a decoded image. Key identifies the edit so cached
// results that already carry it are reused instead of re-edited; two
// transformers with the same key must produce the same output.
type Transformer interface {
	Key() string
	Edit(img *Image) (*Image, error)
}

type transformerFunc struct {
	key string
	fn  func(*Image) (*Image, error)
}

// NewTransformer wraps fn as a Transformer with the given identity
// key.
func NewTransformer(key string, fn func(*Image) (*Image, error)) Transformer {
	return &transformerFunc{key: key, fn: fn}
}

func (t *transformerFunc) Key() string { return t.key }

func (t *transformerFunc) Edit(img *Image) (*Image, error) { return t.fn(img) }
