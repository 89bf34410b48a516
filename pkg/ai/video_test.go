package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newTestVideoClient(t *testing.T, handler http.HandlerFunc) *VideoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewVideoClient("access", "secret", srv.URL, "kling-v1-6")
	if err != nil {
		t.Fatalf("new video client: %v", err)
	}
	return client
}

func TestCreateTaskSendsSignedRequest(t *testing.T) {
	client := newTestVideoClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/videos/image2video" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			t.Errorf("missing bearer token")
		}
		token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(*jwt.Token) (any, error) {
			return []byte("secret"), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			t.Errorf("invalid api token: %v", err)
		}
		var req createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "kling-v1-6" || req.Image != "https://cdn/art.png" || req.Duration != "5" {
			t.Errorf("unexpected payload: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(taskResponse{
			Data: taskData{TaskID: "prov-1", TaskStatus: TaskSubmitted},
		})
	})

	task, err := client.CreateTask(context.Background(), "https://cdn/art.png", "wave", "5", "std")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ProviderID != "prov-1" || task.Status != TaskSubmitted {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestGetTaskExtractsVideoURL(t *testing.T) {
	client := newTestVideoClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/videos/image2video/prov-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := taskResponse{Data: taskData{TaskID: "prov-1", TaskStatus: TaskSucceed}}
		resp.Data.TaskResult.Videos = []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		}{{ID: "v1", URL: "https://provider/video.mp4"}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	task, err := client.GetTask(context.Background(), "prov-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != TaskSucceed || task.VideoURL != "https://provider/video.mp4" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestVideoAPIErrorCodeSurfaces(t *testing.T) {
	client := newTestVideoClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(taskResponse{Code: 1102, Message: "account balance not enough"})
	})
	_, err := client.CreateTask(context.Background(), "https://cdn/art.png", "", "5", "std")
	if err == nil || !strings.Contains(err.Error(), "account balance not enough") {
		t.Fatalf("err = %v, want provider message", err)
	}
}
