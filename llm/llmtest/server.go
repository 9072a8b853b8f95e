// Package llmtest provides httptest stand-ins for the Gemini and OpenAI APIs.
package llmtest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"naturelens/llm"
)

// HandlerFunc receives the decoded request body and returns a status code
// and a value to encode as the JSON response.
type HandlerFunc func(path string, body map[string]interface{}) (int, interface{})

// Server wraps an httptest.Server and counts requests.
type Server struct {
	*httptest.Server
	calls atomic.Int64
}

// Calls returns how many requests the server has received.
func (s *Server) Calls() int {
	return int(s.calls.Load())
}

// NewServer starts a JSON server backed by fn and closes it with the test.
func NewServer(t testing.TB, fn HandlerFunc) *Server {
	t.Helper()
	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)

		body := map[string]interface{}{}
		if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
			json.Unmarshal(data, &body)
		}

		status, resp := fn(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(s.Close)
	return s
}

// GeminiClient returns a genai client pointed at s.
func GeminiClient(t testing.TB, s *Server) *genai.Client {
	t.Helper()
	client, err := llm.NewGeminiClient(context.Background(), llm.ClientConfig{
		APIKey:     "test-key",
		BaseURL:    s.URL,
		HTTPClient: s.Client(),
	})
	if err != nil {
		t.Fatalf("NewGeminiClient() error = %v", err)
	}
	return client
}

// OpenAIClient returns an OpenAI client pointed at s.
func OpenAIClient(t testing.TB, s *Server) *openai.Client {
	t.Helper()
	client, err := llm.NewOpenAIClient(llm.ClientConfig{
		APIKey:     "test-key",
		BaseURL:    s.URL + "/v1",
		HTTPClient: s.Client(),
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	return client
}

// GeminiError is a Gemini API error body.
func GeminiError(code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{"code": code, "message": message, "status": "INTERNAL"},
	}
}

// GeminiText is a generateContent response with one text part.
func GeminiText(text string) map[string]interface{} {
	return geminiParts([]interface{}{map[string]interface{}{"text": text}}, nil)
}

// GeminiGrounded is a text response carrying web grounding chunks in order.
// An empty uri produces a chunk without a web source.
func GeminiGrounded(text string, uris ...string) map[string]interface{} {
	chunks := make([]interface{}, 0, len(uris))
	for _, uri := range uris {
		if uri == "" {
			chunks = append(chunks, map[string]interface{}{"retrievedContext": map[string]interface{}{"title": "none"}})
			continue
		}
		chunks = append(chunks, map[string]interface{}{"web": map[string]interface{}{"uri": uri, "title": uri}})
	}
	return geminiParts(
		[]interface{}{map[string]interface{}{"text": text}},
		map[string]interface{}{"groundingChunks": chunks},
	)
}

// GeminiImage is a response with a text part followed by an inline image.
func GeminiImage(mimeType string, data []byte) map[string]interface{} {
	return geminiParts([]interface{}{
		map[string]interface{}{"text": "Here is your image."},
		map[string]interface{}{"inlineData": map[string]interface{}{
			"mimeType": mimeType,
			"data":     base64.StdEncoding.EncodeToString(data),
		}},
	}, nil)
}

func geminiParts(parts []interface{}, grounding map[string]interface{}) map[string]interface{} {
	candidate := map[string]interface{}{
		"content":      map[string]interface{}{"role": "model", "parts": parts},
		"finishReason": "STOP",
	}
	if grounding != nil {
		candidate["groundingMetadata"] = grounding
	}
	return map[string]interface{}{"candidates": []interface{}{candidate}}
}

// OpenAIChat is a chat completion response with one choice.
func OpenAIChat(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []interface{}{
			map[string]interface{}{
				"index":         0,
				"message":       map[string]interface{}{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
}

// OpenAIImage is an images response carrying base64 data.
func OpenAIImage(data []byte) map[string]interface{} {
	return map[string]interface{}{
		"created": 1700000000,
		"data": []interface{}{
			map[string]interface{}{"b64_json": base64.StdEncoding.EncodeToString(data)},
		},
	}
}

// OpenAIError is an OpenAI API error body.
func OpenAIError(message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{"message": message, "type": "server_error"},
	}
}
