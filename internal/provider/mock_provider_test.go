package provider_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMConfig configures the mock server's replies.
type MockLLMConfig struct {
	Responses map[string]string
	Fallback  string
}

// MockRequest records an incoming request.
type MockRequest struct {
	Path    string
	Body    map[string]any
	Headers http.Header
}

// MockLLMServer mimics the streaming OpenAI chat completions API.
type MockLLMServer struct {
	server *httptest.Server
	config MockLLMConfig

	mu       sync.Mutex
	requests []MockRequest
}

// NewMockLLMServer starts a mock server.
func NewMockLLMServer(config MockLLMConfig) *MockLLMServer {
	m := &MockLLMServer{config: config}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the server's base URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Close shuts the server down.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// Requests returns the recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{Path: r.URL.Path, Body: req, Headers: r.Header.Clone()})
	m.mu.Unlock()

	reply := m.findResponse(lastUserPrompt(req))
	if stream, _ := req["stream"].(bool); stream {
		m.writeStreamingResponse(w, reply)
		return
	}
	m.writeResponse(w, reply)
}

func lastUserPrompt(req map[string]any) string {
	messages, _ := req["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "user" {
			content, _ := msg["content"].(string)
			return content
		}
	}
	return ""
}

func (m *MockLLMServer) findResponse(prompt string) string {
	prompt = strings.ToLower(strings.TrimSpace(prompt))
	for key, reply := range m.config.Responses {
		if strings.Contains(prompt, strings.ToLower(key)) {
			return reply
		}
	}
	return m.config.Fallback
}

func (m *MockLLMServer) writeResponse(w http.ResponseWriter, reply string) {
	response := map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": reply},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, reply string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	send := func(delta map[string]any, finish any) {
		chunk := map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-model",
			"choices": []map[string]any{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		}
		data, _ := json.Marshal(chunk)
		_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	send(map[string]any{"role": "assistant"}, nil)
	words := strings.Fields(reply)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		send(map[string]any{"content": word}, nil)
	}
	send(map[string]any{}, "stop")
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
