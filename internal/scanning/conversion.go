package scanning

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	// DefaultMaxBytes keeps payloads well under typical model endpoint limits
	DefaultMaxBytes = 4 << 20
	// DefaultMaxDimension is the longest side sent to the model
	DefaultMaxDimension = 1024

	minDimension = 256
	jpegQuality  = 85
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// PreprocessOptions bounds the normalized image
type PreprocessOptions struct {
	MaxBytes     int
	MaxDimension int
}

// Preprocessor normalizes receipt images before extraction
type Preprocessor struct {
	opts PreprocessOptions
}

// NewPreprocessor creates a Preprocessor, filling in defaults for zero options
func NewPreprocessor(opts PreprocessOptions) *Preprocessor {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	return &Preprocessor{opts: opts}
}

// Normalize decodes the image, applies EXIF orientation, fits it within the
// dimension ceiling and re-encodes it under the byte ceiling.
func (p *Preprocessor) Normalize(in RawImage) (RawImage, error) {
	if len(in.Data) == 0 {
		return RawImage{}, fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}
	mimeType := strings.ToLower(strings.TrimSpace(in.MIMEType))

	if p.canPassThrough(in.Data) {
		return RawImage{Data: in.Data, MIMEType: "image/png"}, nil
	}

	img, err := decodeImage(in.Data, mimeType)
	if err != nil {
		return RawImage{}, err
	}

	img = imaging.Fit(img, p.opts.MaxDimension, p.opts.MaxDimension, imaging.Lanczos)
	return p.encode(img)
}

// canPassThrough accepts PNGs already inside both ceilings. PNGs carry no
// EXIF orientation, so nothing needs correcting.
func (p *Preprocessor) canPassThrough(data []byte) bool {
	if !bytes.HasPrefix(data, pngMagic) || len(data) > p.opts.MaxBytes {
		return false
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return cfg.Width <= p.opts.MaxDimension && cfg.Height <= p.opts.MaxDimension
}

func (p *Preprocessor) encode(img image.Image) (RawImage, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return RawImage{}, fmt.Errorf("encoding PNG: %w", err)
	}
	if buf.Len() <= p.opts.MaxBytes {
		return RawImage{Data: buf.Bytes(), MIMEType: "image/png"}, nil
	}

	// Too large as PNG: switch to JPEG and shrink until it fits
	for {
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
			return RawImage{}, fmt.Errorf("encoding JPEG: %w", err)
		}
		bounds := img.Bounds()
		longest := max(bounds.Dx(), bounds.Dy())
		if buf.Len() <= p.opts.MaxBytes || longest*3/4 < minDimension {
			return RawImage{Data: buf.Bytes(), MIMEType: "image/jpeg"}, nil
		}
		img = imaging.Resize(img, bounds.Dx()*3/4, 0, imaging.Lanczos)
	}
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	switch {
	case mimeType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF")):
		img, err := pdfToImage(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return img, nil
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		// Go's standard image package has no HEIC support
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC/HEIF image: %v", ErrUnsupportedFormat, err)
		}
		return img, nil
	default:
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return img, nil
	}
}

// pdfToImage renders the first page of a PDF; receipts are almost always one page
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
