package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestOutlineClient(t *testing.T, handler http.HandlerFunc) (*OutlineClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewOutlineClient("test-key", "test-model")
	if err != nil {
		t.Fatalf("new outline client: %v", err)
	}
	client.baseURL = srv.URL
	return client, srv
}

func streamChunk(parts ...part) string {
	chunk := generateResponse{}
	chunk.Candidates = []struct {
		Content content `json:"content"`
	}{{Content: content{Parts: parts}}}
	raw, _ := json.Marshal(chunk)
	return string(raw)
}

func TestGenerateOutlineAccumulatesStream(t *testing.T) {
	image := []byte{0x89, 0x50, 0x4e, 0x47}
	encoded := base64.StdEncoding.EncodeToString(image)
	client, _ := newTestOutlineClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.Contains(r.URL.Path, "test-model:streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("api key missing from query")
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Errorf("unexpected request shape: %+v", req)
		}
		chunks := []string{
			streamChunk(part{Text: "working on it"}),
			streamChunk(part{InlineData: &inlineData{MimeType: "image/png", Data: encoded}}),
			streamChunk(part{Text: " done"}),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[" + strings.Join(chunks, ",") + "]"))
	})

	result, err := client.GenerateOutline(context.Background(), []byte("photo"), "image/jpeg", "make it bold")
	if err != nil {
		t.Fatalf("generate outline: %v", err)
	}
	if string(result.ImageData) != string(image) {
		t.Fatalf("image data mismatch")
	}
	if result.MimeType != "image/png" {
		t.Fatalf("mime type = %s, want image/png", result.MimeType)
	}
	if result.Diagnostics != "working on it done" {
		t.Fatalf("diagnostics = %q", result.Diagnostics)
	}
}

func TestGenerateOutlineLastImageWins(t *testing.T) {
	first := base64.StdEncoding.EncodeToString([]byte("first"))
	second := base64.StdEncoding.EncodeToString([]byte("second"))
	client, _ := newTestOutlineClient(t, func(w http.ResponseWriter, _ *http.Request) {
		chunks := []string{
			streamChunk(part{InlineData: &inlineData{MimeType: "image/png", Data: first}}),
			streamChunk(part{InlineData: &inlineData{MimeType: "image/png", Data: second}}),
		}
		_, _ = w.Write([]byte("[" + strings.Join(chunks, ",") + "]"))
	})
	result, err := client.GenerateOutline(context.Background(), []byte("photo"), "image/png", "")
	if err != nil {
		t.Fatalf("generate outline: %v", err)
	}
	if string(result.ImageData) != "second" {
		t.Fatalf("image data = %q, want the last image part", result.ImageData)
	}
}

func TestGenerateOutlineNoImageIsError(t *testing.T) {
	client, _ := newTestOutlineClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[" + streamChunk(part{Text: "only text"}) + "]"))
	})
	if _, err := client.GenerateOutline(context.Background(), []byte("photo"), "image/png", ""); err == nil {
		t.Fatalf("expected error for image-free stream")
	}
}

func TestGenerateOutlineSurfacesAPIError(t *testing.T) {
	client, _ := newTestOutlineClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})
	_, err := client.GenerateOutline(context.Background(), []byte("photo"), "image/png", "")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v, want quota message", err)
	}
}
