package media

import (
	"bytes"
	"image"
	"math"

	"github.com/disintegration/imaging"

	apperrors "github.com/kimhsiao/arcache/internal/errors"
)

// DefaultEncodeQuality is used when the requested quality is outside (0, 1].
const DefaultEncodeQuality = 0.92

// CropResult is a canonical square image.
type CropResult struct {
	Data   []byte
	Width  int
	Height int
	Format Format
}

// Cropper produces centered square crops. It holds no state and is safe for
// concurrent use.
type Cropper struct{}

// NewCropper creates a Cropper.
func NewCropper() *Cropper {
	return &Cropper{}
}

// SquareBounds returns the centered square of a w×h image.
func SquareBounds(w, h int) image.Rectangle {
	side := w
	if h < side {
		side = h
	}
	if side < 0 {
		side = 0
	}
	x0 := (w - side) / 2
	y0 := (h - side) / 2
	return image.Rect(x0, y0, x0+side, y0+side)
}

// CropToSquare decodes raw, crops the centered square and re-encodes it in the
// source format. Formats without an encoder (webp) are re-encoded as JPEG.
func (c *Cropper) CropToSquare(raw []byte, encodeQuality float64) (*CropResult, error) {
	src, err := DetectFormat(raw)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDecode, "failed to decode image", err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, apperrors.New(apperrors.ErrDecode, "image has no pixels")
	}
	rect := SquareBounds(b.Dx(), b.Dy()).Add(b.Min)
	cropped := imaging.Crop(img, rect)

	outFormat := src
	encFormat, err := imaging.FormatFromExtension(src.Ext)
	if err != nil {
		outFormat = formatJPEG
		encFormat = imaging.JPEG
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, encFormat, imaging.JPEGQuality(jpegQuality(encodeQuality))); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrEncode, "failed to encode cropped image", err)
	}
	if buf.Len() == 0 {
		return nil, apperrors.New(apperrors.ErrEncode, "encoder produced no output")
	}

	cb := cropped.Bounds()
	return &CropResult{
		Data:   buf.Bytes(),
		Width:  cb.Dx(),
		Height: cb.Dy(),
		Format: outFormat,
	}, nil
}

// jpegQuality maps a 0–1 quality to the 1–100 JPEG scale.
func jpegQuality(q float64) int {
	if q <= 0 || q > 1 || math.IsNaN(q) {
		q = DefaultEncodeQuality
	}
	n := int(math.Round(q * 100))
	if n < 1 {
		n = 1
	}
	return n
}
