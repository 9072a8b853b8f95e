// Package classify identifies the animal or bird in an image using a vision model.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"naturelens/collection"
	"naturelens/llm"
)

// Prompts shared by every backend.
const (
	SystemInstruction = "You are an expert zoologist. Identify species accurately."
	Prompt            = "Identify the animal or bird in this picture clearly. If it is not an animal/bird, return 'Unknown' for species."
)

var (
	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = errors.New("classify: empty model response")
	// ErrMissingSpecies is returned when the output has no species.
	ErrMissingSpecies = errors.New("classify: missing species")
	// ErrMissingConfidence is returned when the output has no numeric confidence.
	ErrMissingConfidence = errors.New("classify: missing confidence")
	// ErrConfidenceRange is returned when confidence falls outside [0,1].
	ErrConfidenceRange = errors.New("classify: confidence out of range")
	// ErrUnrecognized is returned by callers that refuse "Unknown" results.
	ErrUnrecognized = errors.New("classify: no animal or bird recognized")
	// ErrEmptyImage is returned before any request when there are no bytes to send.
	ErrEmptyImage = errors.New("classify: empty image")
)

// Classifier turns image bytes into a structured AnalysisResult.
type Classifier interface {
	Classify(ctx context.Context, data []byte, mimeType string) (collection.AnalysisResult, error)
}

// ClassificationError reports a failed classification. Op is one of
// "request", "parse" or "validate".
type ClassificationError struct {
	Op  string
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification %s: %v", e.Op, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// rawResult mirrors the model's JSON. Confidence is a pointer so that a
// missing value is distinguishable from zero.
type rawResult struct {
	Species        string   `json:"species"`
	ScientificName string   `json:"scientificName"`
	Confidence     *float64 `json:"confidence"`
	Description    string   `json:"description"`
	Habitat        string   `json:"habitat"`
	Category       string   `json:"category"`
}

// ParseResult decodes and validates model output. The text may contain
// prose or markdown fences around the JSON object.
func ParseResult(text string) (collection.AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return collection.AnalysisResult{}, &ClassificationError{Op: "parse", Err: ErrEmptyResponse}
	}

	jsonStr, err := llm.ExtractJSONFromText(text)
	if err != nil {
		return collection.AnalysisResult{}, &ClassificationError{Op: "parse", Err: err}
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return collection.AnalysisResult{}, &ClassificationError{Op: "parse", Err: err}
	}

	result := collection.AnalysisResult{
		Species:        strings.TrimSpace(raw.Species),
		ScientificName: strings.TrimSpace(raw.ScientificName),
		Description:    strings.TrimSpace(raw.Description),
		Habitat:        strings.TrimSpace(raw.Habitat),
		Category:       strings.TrimSpace(raw.Category),
	}
	if raw.Confidence != nil {
		result.Confidence = *raw.Confidence
	}

	if err := validate(result, raw.Confidence != nil); err != nil {
		return collection.AnalysisResult{}, &ClassificationError{Op: "validate", Err: err}
	}
	return result, nil
}

func validate(r collection.AnalysisResult, hasConfidence bool) error {
	if r.Species == "" {
		return ErrMissingSpecies
	}
	if !hasConfidence {
		return ErrMissingConfidence
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: %v", ErrConfidenceRange, r.Confidence)
	}
	return nil
}
