package llm

import (
	"errors"
	"strings"

	"google.golang.org/genai"
)

var (
	// ErrNoJSONFound is returned when no JSON object is found in model text.
	ErrNoJSONFound = errors.New("no JSON object found in text")
	// ErrNoImage is returned when a response carries no inline image bytes.
	ErrNoImage = errors.New("no image returned by model")
)

// ExtractJSONFromText returns the text between the first '{' and the last '}'.
// Models sometimes wrap JSON in markdown fences or prose even in JSON mode.
func ExtractJSONFromText(text string) (string, error) {
	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")

	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		return "", ErrNoJSONFound
	}

	return text[startIdx : endIdx+1], nil
}

// ResponseText concatenates the text parts of the first candidate, skipping thoughts.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// ResponseImage returns the first inline image in the first candidate.
// Models often answer with text alongside the image; the text is ignored.
func ResponseImage(resp *genai.GenerateContentResponse) ([]byte, string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, "", ErrNoImage
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, part.InlineData.MIMEType, nil
		}
	}
	return nil, "", ErrNoImage
}

// FirstWebSource returns the first grounding citation with a non-empty web URI.
func FirstWebSource(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return ""
	}
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk != nil && chunk.Web != nil && chunk.Web.URI != "" {
			return chunk.Web.URI
		}
	}
	return ""
}
