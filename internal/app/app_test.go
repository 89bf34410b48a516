package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"familyart/pkg/ai"
	"familyart/pkg/credits"
	"familyart/pkg/domain"
	"familyart/pkg/storage"
	"familyart/pkg/store"
)

// memObjects is an in-memory ObjectStore for workflow tests.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return fmt.Errorf("storage down")
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return err
	}
	m.objects[key] = buf.Bytes()
	return nil
}

func (m *memObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return m.PublicURL(key), nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) PublicURL(key string) string { return "https://media.test/" + key }

func (m *memObjects) Owns(url string) bool {
	return len(url) > len("https://media.test/") && url[:len("https://media.test/")] == "https://media.test/"
}

// fakeOutline returns a fixed image or a configured error.
type fakeOutline struct {
	err error
}

func (f *fakeOutline) GenerateOutline(context.Context, []byte, string, string) (ai.OutlineResult, error) {
	if f.err != nil {
		return ai.OutlineResult{}, f.err
	}
	return ai.OutlineResult{ImageData: []byte("outline"), MimeType: "image/png"}, nil
}

// fakeVideo walks a scripted status sequence.
type fakeVideo struct {
	mu        sync.Mutex
	createErr error
	statuses  []string
	videoURL  string
	polls     int
}

func (f *fakeVideo) CreateTask(context.Context, string, string, string, string) (ai.VideoTask, error) {
	if f.createErr != nil {
		return ai.VideoTask{}, f.createErr
	}
	return ai.VideoTask{ProviderID: "prov-1", Status: ai.TaskSubmitted}, nil
}

func (f *fakeVideo) GetTask(context.Context, string) (ai.VideoTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.statuses[len(f.statuses)-1]
	if f.polls < len(f.statuses) {
		status = f.statuses[f.polls]
	}
	f.polls++
	task := ai.VideoTask{ProviderID: "prov-1", Status: status}
	if status == ai.TaskSucceed {
		task.VideoURL = f.videoURL
	}
	if status == ai.TaskFailed {
		task.Message = "provider rejected frame"
	}
	return task, nil
}

func (f *fakeVideo) Model() string { return "kling-v1-6" }

type testApp struct {
	app     *App
	store   *store.MemoryStore
	objects *memObjects
	video   *fakeVideo
	outline *fakeOutline
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	st := store.NewMemoryStore()
	objects := newMemObjects()
	// Serves the "provider" video the workflow re-hosts.
	providerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("video-bytes"))
	}))
	t.Cleanup(providerSrv.Close)
	video := &fakeVideo{statuses: []string{ai.TaskProcessing, ai.TaskSucceed}, videoURL: providerSrv.URL + "/video.mp4"}
	outline := &fakeOutline{}
	a := New(Config{
		Store:               st,
		Media:               storage.NewMedia(objects),
		Outline:             outline,
		Video:               video,
		Ledger:              credits.NewLedger(st),
		FrontendURL:         "https://familyart.test",
		StripeWebhookSecret: "whsec_test",
		PollInterval:        time.Millisecond,
		PollBudget:          250 * time.Millisecond,
	})
	return &testApp{app: a, store: st, objects: objects, video: video, outline: outline}
}

func mustUser(ta *testApp, email string, balance int) {
	_, _ = ta.store.EnsureUser(domain.User{Email: email, Credits: balance})
}
