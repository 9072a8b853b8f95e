// Package imagegen creates new images from prompts and edits existing images
// from instructions. Results feed the same ingest path as uploads.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AspectRatio is one of the ratios the studio offers.
type AspectRatio string

const (
	Aspect1x1  AspectRatio = "1:1"
	Aspect2x3  AspectRatio = "2:3"
	Aspect3x2  AspectRatio = "3:2"
	Aspect3x4  AspectRatio = "3:4"
	Aspect4x3  AspectRatio = "4:3"
	Aspect9x16 AspectRatio = "9:16"
	Aspect16x9 AspectRatio = "16:9"
	Aspect21x9 AspectRatio = "21:9"
)

// AspectRatios lists every supported ratio in display order.
var AspectRatios = []AspectRatio{Aspect1x1, Aspect2x3, Aspect3x2, Aspect3x4, Aspect4x3, Aspect9x16, Aspect16x9, Aspect21x9}

// ParseAspectRatio validates s. The empty string means 1:1.
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Aspect1x1, nil
	}
	for _, r := range AspectRatios {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: aspect ratio %q", ErrInvalidOption, s)
}

// Orientation reports whether the ratio is wider or taller than square:
// 1 for landscape, -1 for portrait, 0 for square.
func (r AspectRatio) Orientation() int {
	switch r {
	case Aspect3x2, Aspect4x3, Aspect16x9, Aspect21x9:
		return 1
	case Aspect2x3, Aspect3x4, Aspect9x16:
		return -1
	default:
		return 0
	}
}

// Size is the output resolution tier.
type Size string

const (
	Size1K Size = "1K"
	Size2K Size = "2K"
	Size4K Size = "4K"
)

// Sizes lists every supported tier.
var Sizes = []Size{Size1K, Size2K, Size4K}

// ParseSize validates s case-insensitively. The empty string means 1K.
func ParseSize(s string) (Size, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Size1K, nil
	}
	for _, sz := range Sizes {
		if string(sz) == s {
			return sz, nil
		}
	}
	return "", fmt.Errorf("%w: size %q", ErrInvalidOption, s)
}

var (
	// ErrEmptyPrompt is returned before any request for a blank prompt.
	ErrEmptyPrompt = errors.New("imagegen: prompt cannot be empty")
	// ErrEmptyInstruction is returned before any request for a blank edit instruction.
	ErrEmptyInstruction = errors.New("imagegen: instruction cannot be empty")
	// ErrEmptyImage is returned when an edit has no source bytes.
	ErrEmptyImage = errors.New("imagegen: source image cannot be empty")
	// ErrNoImageData is returned when a response carries no image bytes.
	ErrNoImageData = errors.New("imagegen: response contained no image data")
	// ErrInvalidOption is returned for an unknown aspect ratio or size.
	ErrInvalidOption = errors.New("imagegen: invalid option")
)

// GenerateRequest describes a new image.
type GenerateRequest struct {
	Prompt      string
	AspectRatio AspectRatio
	Size        Size
}

// EditRequest describes a change to an existing image.
type EditRequest struct {
	Image       []byte
	MIMEType    string
	Instruction string
}

// Image is raw output bytes with their mime type.
type Image struct {
	Data     []byte
	MIMEType string
}

// Generator creates images from text prompts.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Image, error)
}

// Editor rewrites an existing image following an instruction.
type Editor interface {
	Edit(ctx context.Context, req EditRequest) (Image, error)
}

// Provider is a backend that can both generate and edit.
type Provider interface {
	Generator
	Editor
	Name() string
}

// GenerationError reports a failed generate request.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("image generation %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// EditError reports a failed edit request.
type EditError struct {
	Op  string
	Err error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("image edit %s: %v", e.Op, e.Err)
}

func (e *EditError) Unwrap() error { return e.Err }

// validate checks a generate request before anything goes over the wire.
func (r GenerateRequest) validate() (GenerateRequest, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return r, &GenerationError{Op: "validate", Err: ErrEmptyPrompt}
	}
	aspect, err := ParseAspectRatio(string(r.AspectRatio))
	if err != nil {
		return r, &GenerationError{Op: "validate", Err: err}
	}
	size, err := ParseSize(string(r.Size))
	if err != nil {
		return r, &GenerationError{Op: "validate", Err: err}
	}
	r.AspectRatio, r.Size = aspect, size
	return r, nil
}

func (r EditRequest) validate() error {
	if strings.TrimSpace(r.Instruction) == "" {
		return &EditError{Op: "validate", Err: ErrEmptyInstruction}
	}
	if len(r.Image) == 0 {
		return &EditError{Op: "validate", Err: ErrEmptyImage}
	}
	return nil
}
