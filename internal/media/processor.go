package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// MaxUploadSize is the largest accepted upload in bytes.
const MaxUploadSize = 10 << 20

const (
	maxPixels       = 40_000_000
	documentLinkTTL = 15 * time.Minute
)

var (
	ErrNotImage      = errors.New("file is not a supported image")
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// Variant describes how an upload is resized.
type Variant struct {
	Name   string
	Width  int
	Height int  // zero keeps the aspect ratio
	Fill   bool // crop to exactly Width x Height
}

var (
	Avatar       = Variant{Name: "avatars", Width: 256, Height: 256, Fill: true}
	Cover        = Variant{Name: "covers", Width: 1500}
	ListingImage = Variant{Name: "listings", Width: 1280}
	Document     = Variant{Name: "verification", Width: 2400}
)

// Processor normalizes uploaded images: it applies EXIF orientation, scales
// to the variant and re-encodes as JPEG, which also drops metadata.
type Processor struct {
	Quality int
}

// NewProcessor creates a processor with JPEG quality 85.
func NewProcessor() *Processor {
	return &Processor{Quality: 85}
}

// Process converts data to the given variant.
func (p *Processor) Process(data []byte, v Variant) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, ErrNotImage
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, ErrImageTooLarge
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ErrNotImage
	}

	switch {
	case v.Fill:
		img = imaging.Fill(img, v.Width, v.Height, imaging.Center, imaging.Lanczos)
	case img.Bounds().Dx() > v.Width:
		img = imaging.Resize(img, v.Width, v.Height, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.Quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
