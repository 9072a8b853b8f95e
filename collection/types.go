// Package collection holds the species-keyed photo albums and the recent
// photos feed, and owns merging and persistence of that state.
package collection

import (
	"fmt"
	"strings"
	"time"
)

// MaxRecentPhotos bounds the recent photos feed.
const MaxRecentPhotos = 10

// VerifiedThreshold is the confidence above which a classification is shown as verified.
const VerifiedThreshold = 0.8

// DefaultCategory is displayed when the classifier gave no category.
const DefaultCategory = "Wildlife"

// UnknownSpecies is what the classifier returns for images without an animal or bird.
const UnknownSpecies = "Unknown"

// SpeciesKey normalizes a species label into an album key.
// "Red Fox" and " RED FOX " map to the same key.
func SpeciesKey(species string) string {
	return strings.ToLower(strings.TrimSpace(species))
}

// AnalysisResult is the structured output of classification.
type AnalysisResult struct {
	Species        string  `json:"species" yaml:"species"`
	ScientificName string  `json:"scientificName" yaml:"scientific_name"`
	Confidence     float64 `json:"confidence" yaml:"confidence"`
	Description    string  `json:"description" yaml:"description"`
	Habitat        string  `json:"habitat" yaml:"habitat"`
	Category       string  `json:"category,omitempty" yaml:"category,omitempty"`
}

// Verified reports whether confidence is high enough to badge the photo.
func (a AnalysisResult) Verified() bool {
	return a.Confidence > VerifiedThreshold
}

// DisplayCategory returns Category, or DefaultCategory when empty.
func (a AnalysisResult) DisplayCategory() string {
	if strings.TrimSpace(a.Category) == "" {
		return DefaultCategory
	}
	return a.Category
}

// IsUnknown reports whether the classifier could not recognize an animal.
func (a AnalysisResult) IsUnknown() bool {
	return SpeciesKey(a.Species) == SpeciesKey(UnknownSpecies)
}

// Source records how a photo entered the collection.
type Source string

const (
	SourceUpload    Source = "upload"
	SourceGenerated Source = "generated"
	SourceEdited    Source = "edited"
)

// ParseSource converts a string into a Source. Blobs written before sources
// were recorded have none, so the empty string means upload.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceUpload, "":
		return SourceUpload, nil
	case SourceGenerated:
		return SourceGenerated, nil
	case SourceEdited:
		return SourceEdited, nil
	default:
		return "", fmt.Errorf("collection: unknown photo source %q", s)
	}
}

// UnmarshalText rejects sources outside the closed set.
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Source) String() string {
	return string(s)
}

// Photo is one classified image. Photos are never mutated after creation.
type Photo struct {
	ID         string         `json:"id" yaml:"id"`
	URL        string         `json:"url" yaml:"-"`
	Timestamp  int64          `json:"timestamp" yaml:"timestamp"` // unix milliseconds
	Analysis   AnalysisResult `json:"analysis" yaml:"analysis"`
	FunCaption string         `json:"funCaption,omitempty" yaml:"fun_caption,omitempty"`
	Source     Source         `json:"source" yaml:"source"`
}

// CreatedAt returns Timestamp as a time.Time.
func (p Photo) CreatedAt() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Album groups every photo of one species, newest first.
type Album struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	CoverPhotoURL string  `json:"coverPhotoUrl" yaml:"-"`
	Photos        []Photo `json:"photos" yaml:"photos"`
	WikiSummary   string  `json:"wikiSummary,omitempty" yaml:"wiki_summary,omitempty"`
	WikiURL       string  `json:"wikiUrl,omitempty" yaml:"wiki_url,omitempty"`
}

// Enriched reports whether the grounded summary has been stored.
func (a Album) Enriched() bool {
	return a.WikiSummary != ""
}

func (a Album) clone() Album {
	c := a
	c.Photos = append([]Photo(nil), a.Photos...)
	return c
}
