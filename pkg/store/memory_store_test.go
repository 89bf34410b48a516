package store

import (
	"testing"
	"time"

	"familyart/pkg/domain"
)

func TestEnsureUserKeepsExistingRecord(t *testing.T) {
	m := NewMemoryStore()
	first, err := m.EnsureUser(domain.User{Email: "a@example.com", Name: "First", Credits: 3})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	second, err := m.EnsureUser(domain.User{Email: "a@example.com", Name: "Second", Credits: 0})
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if second.Name != first.Name || second.Credits != 3 {
		t.Fatalf("second sign-in overwrote the record: %+v", second)
	}
}

func TestDebitCreditsNeverGoesNegative(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.EnsureUser(domain.User{Email: "a@example.com", Credits: 2}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	ok, err := m.DebitCredits("a@example.com", 3)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if ok {
		t.Fatalf("debit beyond balance succeeded")
	}
	u, _, _ := m.GetUser("a@example.com")
	if u.Credits != 2 {
		t.Fatalf("failed debit mutated balance: %d", u.Credits)
	}
	if ok, _ := m.DebitCredits("a@example.com", 2); !ok {
		t.Fatalf("exact-balance debit refused")
	}
	u, _, _ = m.GetUser("a@example.com")
	if u.Credits != 0 {
		t.Fatalf("balance after debit = %d, want 0", u.Credits)
	}
}

func TestDebitCreditsAbsentUser(t *testing.T) {
	m := NewMemoryStore()
	ok, err := m.DebitCredits("ghost@example.com", 1)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if ok {
		t.Fatalf("debit against absent user succeeded")
	}
}

func TestMaxQueueNumberSkipsUnparsable(t *testing.T) {
	m := NewMemoryStore()
	if _, found, err := m.MaxQueueNumber(); err != nil || found {
		t.Fatalf("empty store: found=%v err=%v", found, err)
	}
	subs := []domain.PhotoSubmission{
		{ID: "1", QueueNumber: "10001"},
		{ID: "2", QueueNumber: "10007"},
		{ID: "3", QueueNumber: "legacy-abc"},
	}
	for _, sub := range subs {
		if err := m.SaveSubmission(sub); err != nil {
			t.Fatalf("save submission: %v", err)
		}
	}
	max, found, err := m.MaxQueueNumber()
	if err != nil {
		t.Fatalf("max queue number: %v", err)
	}
	if !found || max != 10007 {
		t.Fatalf("max = %d found=%v, want 10007 true", max, found)
	}
}

func TestListRecentSubmissionsNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	for _, qn := range []string{"10001", "10002", "10003"} {
		if err := m.SaveSubmission(domain.PhotoSubmission{ID: qn, QueueNumber: qn}); err != nil {
			t.Fatalf("save submission: %v", err)
		}
	}
	subs, err := m.ListRecentSubmissions(2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(subs) != 2 || subs[0].QueueNumber != "10003" || subs[1].QueueNumber != "10002" {
		t.Fatalf("unexpected recent order: %+v", subs)
	}
}

func TestListAnimationsMatchesBothFamilyArtForms(t *testing.T) {
	m := NewMemoryStore()
	base := time.Now().UTC()
	tasks := []domain.AnimationTask{
		{TaskID: "t1", FamilyArtID: "10001", CreatedAt: base},
		{TaskID: "t2", FamilyArtID: " 10001 ", CreatedAt: base.Add(time.Minute)},
		{TaskID: "t3", FamilyArtID: "10002", CreatedAt: base},
	}
	for _, task := range tasks {
		if err := m.SaveAnimationTask(task); err != nil {
			t.Fatalf("save task: %v", err)
		}
	}
	got, err := m.ListAnimationsByFamilyArt("10001")
	if err != nil {
		t.Fatalf("list animations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matched %d tasks, want 2", len(got))
	}
	if got[0].TaskID != "t2" || got[1].TaskID != "t1" {
		t.Fatalf("unexpected order: %s, %s", got[0].TaskID, got[1].TaskID)
	}
}

func TestUpdateAnimationTaskRequiresExisting(t *testing.T) {
	m := NewMemoryStore()
	err := m.UpdateAnimationTask(domain.AnimationTask{TaskID: "missing"})
	if err != ErrNotFound {
		t.Fatalf("update missing task err = %v, want ErrNotFound", err)
	}
	if err := m.SaveAnimationTask(domain.AnimationTask{TaskID: "t1", Status: domain.AnimationQueuing, Prompt: "wave"}); err != nil {
		t.Fatalf("save task: %v", err)
	}
	if err := m.UpdateAnimationTask(domain.AnimationTask{TaskID: "t1", Status: domain.AnimationSuccess, DownloadURL: "https://cdn/video.mp4"}); err != nil {
		t.Fatalf("update task: %v", err)
	}
	task, ok, _ := m.GetAnimationTask("t1")
	if !ok {
		t.Fatalf("task vanished")
	}
	if task.Status != domain.AnimationSuccess || task.DownloadURL != "https://cdn/video.mp4" {
		t.Fatalf("update not applied: %+v", task)
	}
	if task.Prompt != "wave" {
		t.Fatalf("update clobbered immutable field: %q", task.Prompt)
	}
}

func TestCanonicalFamilyArtID(t *testing.T) {
	cases := map[string]string{
		" 10001 ":    "10001",
		"010001":     "10001",
		"10001":      "10001",
		"legacy-abc": "legacy-abc",
		"":           "",
	}
	for in, want := range cases {
		if got := CanonicalFamilyArtID(in); got != want {
			t.Fatalf("CanonicalFamilyArtID(%q) = %q, want %q", in, got, want)
		}
	}
}
