package archive

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func baseline() Snapshot {
	return Snapshot{
		Title:    "First statement",
		Subtitle: "An opening position",
		Version:  1,
		Content:  `<p>Hello, world.</p>`,
	}
}

func TestArchiveLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.EnsureRepo("st_1", baseline(), "Ada"); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	// Idempotent.
	if err := svc.EnsureRepo("st_1", baseline(), "Ada"); err != nil {
		t.Fatalf("EnsureRepo second call: %v", err)
	}

	updated := baseline()
	updated.Content = `<p>Hello, revised world.</p>`
	commit, err := svc.Commit("st_1", updated, "Ada", "Autosave")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commit.Hash == "" || commit.Author != "Ada" {
		t.Fatalf("commit = %+v", commit)
	}

	head, headCommit, err := svc.Head("st_1")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Content != updated.Content {
		t.Fatalf("head content = %q", head.Content)
	}
	if headCommit.Hash != commit.Hash {
		t.Fatalf("head hash = %s, want %s", headCommit.Hash, commit.Hash)
	}

	history, err := svc.History("st_1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Hash != commit.Hash {
		t.Fatalf("newest-first order violated: %+v", history)
	}
}

func TestCommitSkipsNoops(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("st_1", baseline(), "Ada"); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}

	first, err := svc.Commit("st_1", baseline(), "Ada", "Autosave")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	second, err := svc.Commit("st_1", baseline(), "Ada", "Autosave")
	if err != nil {
		t.Fatalf("Commit repeat: %v", err)
	}
	if first.Hash != second.Hash {
		t.Fatalf("identical snapshot created a new commit: %s != %s", first.Hash, second.Hash)
	}

	history, err := svc.History("st_1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
}

func TestTagAndGetByRef(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("st_1", baseline(), "Ada"); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	if err := svc.TagVersion("st_1", 1); err != nil {
		t.Fatalf("TagVersion: %v", err)
	}

	next := baseline()
	next.Version = 2
	next.Content = `<p>Second version.</p>`
	if _, err := svc.Commit("st_1", next, "Ada", "Start version 2"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := svc.TagVersion("st_1", 2); err != nil {
		t.Fatalf("TagVersion 2: %v", err)
	}

	v1, _, err := svc.GetByRef("st_1", "v1")
	if err != nil {
		t.Fatalf("GetByRef v1: %v", err)
	}
	if v1.Version != 1 || v1.Content != baseline().Content {
		t.Fatalf("v1 = %+v", v1)
	}

	changes, err := svc.Compare("st_1", "v1", "v2")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	fields := map[string]bool{}
	for _, change := range changes {
		fields[change.Field] = true
	}
	if !fields["version"] || !fields["content"] {
		t.Fatalf("changes = %+v", changes)
	}
}

func TestTagVersionIdempotent(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("st_1", baseline(), "Ada"); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	if err := svc.TagVersion("st_1", 1); err != nil {
		t.Fatalf("TagVersion: %v", err)
	}
	if err := svc.TagVersion("st_1", 1); err != nil {
		t.Fatalf("TagVersion repeat: %v", err)
	}
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("st_1", baseline(), "Ada"); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := baseline()
			snap.Content = snap.Content + string(rune('a'+i))
			if _, err := svc.Commit("st_1", snap, "Ada", "Autosave"); err != nil {
				t.Errorf("Commit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History("st_1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) < 2 {
		t.Fatalf("history length = %d", len(history))
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Ada Lovelace": "Ada.Lovelace",
		"user_42":      "user.42",
		"jo-anne":      "jo.anne",
		"Ada":          "Ada",
		"!!!":          "user",
		"":             "user",
	}
	for input, want := range cases {
		if got := sanitizeEmail(input); got != want {
			t.Errorf("sanitizeEmail(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCommitAuthorWithSpaces(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("st_8", baseline(), "Ada Lovelace"); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	updated := baseline()
	updated.Content = `<p>Revised.</p>`
	commit, err := svc.Commit("st_8", updated, "Ada Lovelace", "Autosave")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commit.Author != "Ada Lovelace" {
		t.Fatalf("author = %q", commit.Author)
	}
}

func TestRepoDirectoryCreated(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)
	if err := svc.EnsureRepo("st_9", baseline(), "Ada"); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "st_9", ".git")); err != nil {
		t.Fatalf("archive directory missing: %v", err)
	}
}
