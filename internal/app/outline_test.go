package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"familyart/pkg/store"
)

func testPhotoRef() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("photo-bytes"))
}

func TestGenerateOutlineFirstSubmissionGets10001(t *testing.T) {
	ta := newTestApp(t)
	result, err := ta.app.GenerateOutline(context.Background(), testPhotoRef(), "")
	if err != nil {
		t.Fatalf("generate outline: %v", err)
	}
	if result.QueueNumber != "10001" {
		t.Fatalf("queue number = %s, want 10001", result.QueueNumber)
	}
	if !strings.HasPrefix(result.OutlineURL, "https://media.test/outlines/") {
		t.Fatalf("outline not hosted: %s", result.OutlineURL)
	}
	sub, ok, err := ta.store.GetSubmission("10001")
	if err != nil || !ok {
		t.Fatalf("submission not persisted: ok=%v err=%v", ok, err)
	}
	if sub.GeneratedOutlineURL != result.OutlineURL {
		t.Fatalf("stored outline url mismatch")
	}
}

func TestGenerateOutlineIncrementsPastExisting(t *testing.T) {
	ta := newTestApp(t)
	for i := 0; i < 3; i++ {
		if _, err := ta.app.SaveSubmission(context.Background(), "https://media.test/p.png", ""); err != nil {
			t.Fatalf("seed submission: %v", err)
		}
	}
	result, err := ta.app.GenerateOutline(context.Background(), testPhotoRef(), "")
	if err != nil {
		t.Fatalf("generate outline: %v", err)
	}
	if result.QueueNumber != "10003" {
		t.Fatalf("queue number = %s, want 10003", result.QueueNumber)
	}
}

func TestGenerateOutlineFailureWritesNothing(t *testing.T) {
	ta := newTestApp(t)
	ta.outline.err = fmt.Errorf("model unavailable")
	if _, err := ta.app.GenerateOutline(context.Background(), testPhotoRef(), ""); err == nil {
		t.Fatalf("expected generation error")
	}
	subs, err := ta.store.ListRecentSubmissions(10)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("failed generation persisted a submission: %+v", subs)
	}
}

func TestGenerateOutlineSurvivesStorageOutage(t *testing.T) {
	ta := newTestApp(t)
	ta.objects.failPut = true
	result, err := ta.app.GenerateOutline(context.Background(), testPhotoRef(), "")
	if err != nil {
		t.Fatalf("generate outline: %v", err)
	}
	if !strings.HasPrefix(result.OutlineURL, "data:image/png;base64,") {
		t.Fatalf("expected data-url fallback, got %s", result.OutlineURL)
	}
}

func TestSaveSubmissionStartsAt10000(t *testing.T) {
	ta := newTestApp(t)
	result, err := ta.app.SaveSubmission(context.Background(), "https://media.test/photo.png", "https://media.test/outline.png")
	if err != nil {
		t.Fatalf("save submission: %v", err)
	}
	if result.QueueNumber != "10000" {
		t.Fatalf("queue number = %s, want 10000", result.QueueNumber)
	}
}

// failMaxStore simulates a store whose queue-number read fails.
type failMaxStore struct {
	store.Store
}

func (failMaxStore) MaxQueueNumber() (int, bool, error) {
	return 0, false, fmt.Errorf("store unavailable")
}

func TestNextQueueNumberFallsBackToTimeDerived(t *testing.T) {
	ta := newTestApp(t)
	ta.app.store = failMaxStore{Store: ta.store}
	result, err := ta.app.SaveSubmission(context.Background(), "https://media.test/photo.png", "")
	if err != nil {
		t.Fatalf("save submission: %v", err)
	}
	if len(result.QueueNumber) != 5 {
		t.Fatalf("fallback queue number %q is not 5 digits", result.QueueNumber)
	}
}
