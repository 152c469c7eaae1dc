// Package media scores, crops and previews candidate marker images.
package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/kimhsiao/arcache/internal/errors"
)

// Format identifies an encoded image format.
type Format struct {
	// Ext is the lower-case extension without the dot, e.g. "jpg".
	Ext  string
	MIME string
}

var formatJPEG = Format{Ext: "jpg", MIME: "image/jpeg"}

// DetectFormat sniffs the image format from magic bytes.
func DetectFormat(data []byte) (Format, error) {
	if len(data) == 0 {
		return Format{}, apperrors.New(apperrors.ErrDecode, "empty image data")
	}
	kind, err := filetype.Match(data)
	if err != nil {
		return Format{}, apperrors.Wrap(apperrors.ErrDecode, "unable to detect image format", err)
	}
	if kind == filetype.Unknown || !filetype.IsImage(data) {
		return Format{}, apperrors.New(apperrors.ErrDecode, "data is not a recognised image")
	}
	return Format{Ext: strings.ToLower(kind.Extension), MIME: kind.MIME.Value}, nil
}

// ImageInfo is the header-level description of an encoded image.
type ImageInfo struct {
	Width  int
	Height int
	Format Format
	Size   int64
}

// ReadImageInfo reads dimensions without decoding pixel data.
func ReadImageInfo(data []byte) (*ImageInfo, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDecode, "failed to read image header", err)
	}
	return &ImageInfo{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
		Size:   int64(len(data)),
	}, nil
}

// normalizeExt lower-cases ext and strips a leading dot.
func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
