// Package vision validates and prepares images before they are sent to a
// model or embedded into a photo.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyImage        = errors.New("vision: empty image data")
	ErrInvalidImage      = errors.New("vision: invalid image data")
	ErrUnsupportedFormat = errors.New("vision: unsupported image format")
	ErrImageTooLarge     = errors.New("vision: image exceeds upload limit")
)

// jpegQuality is used when a downscaled image is re-encoded.
const jpegQuality = 90

// Info describes an image without decoding its pixels.
type Info struct {
	MIMEType string
	Format   string
	Width    int
	Height   int
}

var supportedFormats = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
}

// Inspect reads the image header and reports its real format. The sniffed
// format wins over whatever mime type the caller declared.
func Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyImage
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	mimeType, ok := supportedFormats[format]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: %dx%d", ErrInvalidImage, cfg.Width, cfg.Height)
	}

	return Info{MIMEType: mimeType, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// DecodeImage decodes PNG, JPEG, GIF, WebP or BMP data.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// FitWithin scales img down so neither side exceeds maxDim, keeping the
// aspect ratio. Images already small enough are returned unchanged.
func FitWithin(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxDim <= 0 || (width <= maxDim && height <= maxDim) {
		return img
	}

	scale := float64(maxDim) / float64(max(width, height))
	newWidth := max(1, int(float64(width)*scale))
	newHeight := max(1, int(float64(height)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// Prepared is an image ready to send to a model and embed in a photo.
type Prepared struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Resized  bool
	// Opaque marks bytes forwarded under their declared type without
	// being decoded. Width and Height are zero.
	Opaque bool
}

// Prepare validates data against maxBytes and shrinks it to maxDim when
// larger. PNG stays PNG; everything else that needs resizing becomes JPEG.
// Images within limits pass through byte-for-byte.
func Prepare(data []byte, maxBytes int64, maxDim int) (Prepared, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Prepared{}, fmt.Errorf("%w: %d bytes > %d", ErrImageTooLarge, len(data), maxBytes)
	}

	info, err := Inspect(data)
	if err != nil {
		return Prepared{}, err
	}

	if maxDim <= 0 || (info.Width <= maxDim && info.Height <= maxDim) {
		return Prepared{Data: data, MIMEType: info.MIMEType, Width: info.Width, Height: info.Height}, nil
	}

	img, err := DecodeImage(data)
	if err != nil {
		return Prepared{}, err
	}
	scaled := FitWithin(img, maxDim)

	var buf bytes.Buffer
	mimeType := "image/jpeg"
	if info.Format == "png" {
		mimeType = "image/png"
		err = png.Encode(&buf, scaled)
	} else {
		err = jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return Prepared{}, fmt.Errorf("vision: re-encode: %w", err)
	}

	b := scaled.Bounds()
	return Prepared{
		Data:     buf.Bytes(),
		MIMEType: mimeType,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Resized:  true,
	}, nil
}

// PrepareDeclared is Prepare for uploads that carry a declared mime type.
// Image formats this package cannot decode, such as HEIC, are forwarded
// byte-for-byte under the declared type without downscaling. Bytes declared
// as a decodable format must decode.
func PrepareDeclared(data []byte, declared string, maxBytes int64, maxDim int) (Prepared, error) {
	prepared, err := Prepare(data, maxBytes, maxDim)
	if err == nil || !errors.Is(err, ErrUnsupportedFormat) {
		return prepared, err
	}

	mediaType, ok := opaqueImageType(declared)
	if !ok {
		return Prepared{}, err
	}
	return Prepared{Data: data, MIMEType: mediaType, Opaque: true}, nil
}

// opaqueImageType reports whether declared names an image type outside
// supportedFormats.
func opaqueImageType(declared string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", false
	}
	mediaType = strings.ToLower(mediaType)
	if !strings.HasPrefix(mediaType, "image/") || mediaType == "image/jpg" {
		return "", false
	}
	for _, known := range supportedFormats {
		if mediaType == known {
			return "", false
		}
	}
	return mediaType, true
}
