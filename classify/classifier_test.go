package classify

import (
	"errors"
	"testing"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
		wantOp  string
		species string
	}{
		{
			name:    "plain json",
			text:    `{"species":"Red Fox","scientificName":"Vulpes vulpes","confidence":0.93,"description":"orange fox","habitat":"woodland"}`,
			species: "Red Fox",
		},
		{
			name:    "fenced json",
			text:    "```json\n{\"species\":\" Barn Owl \",\"confidence\":1,\"scientificName\":\"Tyto alba\"}\n```",
			species: "Barn Owl",
		},
		{
			name:    "unknown is valid",
			text:    `{"species":"Unknown","confidence":0.1}`,
			species: "Unknown",
		},
		{"empty", "   ", ErrEmptyResponse, "parse", ""},
		{"no object", "I think this is a fox.", nil, "parse", ""},
		{"malformed", `{"species": "fox",}`, nil, "parse", ""},
		{"confidence as string", `{"species":"fox","confidence":"high"}`, nil, "parse", ""},
		{"missing species", `{"species":"  ","confidence":0.5}`, ErrMissingSpecies, "validate", ""},
		{"missing confidence", `{"species":"fox"}`, ErrMissingConfidence, "validate", ""},
		{"confidence above one", `{"species":"fox","confidence":1.5}`, ErrConfidenceRange, "validate", ""},
		{"negative confidence", `{"species":"fox","confidence":-0.2}`, ErrConfidenceRange, "validate", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResult(tt.text)
			if tt.wantOp == "" {
				if err != nil {
					t.Fatalf("ParseResult() error = %v", err)
				}
				if got.Species != tt.species {
					t.Errorf("Species = %q, want %q", got.Species, tt.species)
				}
				return
			}

			var cerr *ClassificationError
			if !errors.As(err, &cerr) {
				t.Fatalf("error = %v, want *ClassificationError", err)
			}
			if cerr.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", cerr.Op, tt.wantOp)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseResult_KeepsAllFields(t *testing.T) {
	got, err := ParseResult(`{"species":"Puffin","scientificName":"Fratercula arctica","confidence":0.85,"description":"black and white seabird","habitat":"sea cliffs","category":"Bird"}`)
	if err != nil {
		t.Fatalf("ParseResult() error = %v", err)
	}
	if got.ScientificName != "Fratercula arctica" || got.Habitat != "sea cliffs" || got.Category != "Bird" {
		t.Errorf("fields lost: %+v", got)
	}
	if !got.Verified() {
		t.Error("0.85 should be verified")
	}
}
