package classify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"naturelens/llm/llmtest"
)

func TestOpenAIClassifier_Classify(t *testing.T) {
	var gotBody map[string]interface{}
	server := llmtest.NewServer(t, func(path string, body map[string]interface{}) (int, interface{}) {
		if !strings.HasSuffix(path, "/chat/completions") {
			t.Errorf("path = %s", path)
		}
		gotBody = body
		return http.StatusOK, llmtest.OpenAIChat("Sure!\n{\"species\":\"Grey Heron\",\"scientificName\":\"Ardea cinerea\",\"confidence\":0.77}")
	})

	c := NewOpenAIClassifier(llmtest.OpenAIClient(t, server), "gpt-test", nil)
	got, err := c.Classify(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Species != "Grey Heron" || got.Verified() {
		t.Errorf("result = %+v", got)
	}

	format, _ := gotBody["response_format"].(map[string]interface{})
	if format["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", gotBody["response_format"])
	}
	messages, _ := gotBody["messages"].([]interface{})
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(messages))
	}
	user, _ := messages[1].(map[string]interface{})
	parts, _ := user["content"].([]interface{})
	if len(parts) != 2 {
		t.Fatalf("user parts = %d, want text and image", len(parts))
	}
	image, _ := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	if url, _ := image["url"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image url = %q, want png data URI", url)
	}
}

func TestOpenAIClassifier_RequestFailure(t *testing.T) {
	server := llmtest.NewServer(t, func(string, map[string]interface{}) (int, interface{}) {
		return http.StatusServiceUnavailable, llmtest.OpenAIError("overloaded")
	})
	c := NewOpenAIClassifier(llmtest.OpenAIClient(t, server), "gpt-test", nil)

	_, err := c.Classify(context.Background(), []byte("img"), "image/jpeg")
	var cerr *ClassificationError
	if !errors.As(err, &cerr) || cerr.Op != "request" {
		t.Errorf("error = %v, want request ClassificationError", err)
	}
	if server.Calls() != 1 {
		t.Errorf("server called %d times, want exactly one attempt", server.Calls())
	}
}
