package gallery

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := NewStore(filepath.Join(base, "users"), filepath.Join(base, "staging"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func testFace() *image.Gray {
	return image.NewGray(image.Rect(0, 0, 96, 96))
}

func TestExists_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetEmail("Alice", "alice@example.com"); err != nil {
		t.Fatalf("SetEmail failed: %v", err)
	}

	for _, name := range []string{"Alice", "alice", "ALICE"} {
		if !s.Exists(name) {
			t.Errorf("Exists(%q) = false, want true", name)
		}
	}
	if s.Exists("bob") {
		t.Error("Exists(bob) = true for unknown identity")
	}
}

func TestEmail(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Email("alice"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("error = %v, want ErrIdentityNotFound", err)
	}

	if err := s.SetEmail("alice", "alice@example.com"); err != nil {
		t.Fatalf("SetEmail failed: %v", err)
	}
	addr, err := s.Email("ALICE")
	if err != nil {
		t.Fatalf("Email failed: %v", err)
	}
	if addr != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", addr)
	}

	// An identity dir without an address file.
	if err := os.MkdirAll(filepath.Join(s.usersDir, "bob"), 0700); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if _, err := s.Email("bob"); !errors.Is(err, ErrNoEmail) {
		t.Errorf("error = %v, want ErrNoEmail", err)
	}
}

func TestIdentities_Sorted(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"carol", "alice", "bob"} {
		if err := s.SetEmail(name, name+"@example.com"); err != nil {
			t.Fatalf("SetEmail failed: %v", err)
		}
	}

	names, err := s.Identities()
	if err != nil {
		t.Fatalf("Identities failed: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestStagingLifecycle(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.NewStaging("alice")
	if err != nil {
		t.Fatalf("NewStaging failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := sess.Add(testFace()); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if sess.Count() != 3 {
		t.Errorf("Count = %d, want 3", sess.Count())
	}

	// A second session for the same name gets its own directory.
	sess2, err := s.NewStaging("alice")
	if err != nil {
		t.Fatalf("NewStaging failed: %v", err)
	}
	if sess2.Dir == sess.Dir {
		t.Error("two staging sessions share a directory")
	}
	sess2.Discard()
	if _, err := os.Stat(sess2.Dir); !os.IsNotExist(err) {
		t.Error("Discard left the staging dir behind")
	}

	n, err := s.CommitStaging("alice", sess.Dir, "alice@example.com")
	if err != nil {
		t.Fatalf("CommitStaging failed: %v", err)
	}
	if n != 3 {
		t.Errorf("committed %d images, want 3", n)
	}
	if _, err := os.Stat(sess.Dir); !os.IsNotExist(err) {
		t.Error("CommitStaging left the staging dir behind")
	}

	paths, err := s.Images("alice")
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("gallery has %d images, want 3", len(paths))
	}
	// Committed names keep the staged sequence as a suffix.
	if !strings.HasSuffix(paths[0], "_1.jpg") {
		t.Errorf("first committed image = %s, want *_1.jpg", paths[0])
	}

	addr, err := s.Email("alice")
	if err != nil || addr != "alice@example.com" {
		t.Errorf("Email = (%q, %v), want committed address", addr, err)
	}
}

func TestAddImage(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddImage("ghost", testFace(), "login"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("error = %v, want ErrIdentityNotFound", err)
	}

	if err := s.SetEmail("alice", "alice@example.com"); err != nil {
		t.Fatalf("SetEmail failed: %v", err)
	}
	path, err := s.AddImage("Alice", testFace(), "login")
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if !strings.HasSuffix(path, "_login.jpg") {
		t.Errorf("path = %s, want *_login.jpg", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("added image missing: %v", err)
	}

	paths, err := s.Images("alice")
	if err != nil || len(paths) != 1 {
		t.Errorf("Images = (%v, %v), want one image", paths, err)
	}
}

func TestInvalidNamesRejected(t *testing.T) {
	s := newTestStore(t)

	names := []string{"", ".", "..", "../../victim/evil", "a/b", `a\b`}
	for _, name := range names {
		if err := s.SetEmail(name, "x@example.com"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("SetEmail(%q) error = %v, want ErrInvalidName", name, err)
		}
		if _, err := s.NewStaging(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("NewStaging(%q) error = %v, want ErrInvalidName", name, err)
		}
		if _, err := s.AddImage(name, testFace(), "login"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("AddImage(%q) error = %v, want ErrInvalidName", name, err)
		}
		if _, err := s.CommitStaging(name, s.stagingDir, "x@example.com"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("CommitStaging(%q) error = %v, want ErrInvalidName", name, err)
		}
	}

	// Nothing escaped the gallery roots.
	entries, err := os.ReadDir(filepath.Dir(s.usersDir))
	if err != nil {
		t.Fatalf("failed to read base dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "users" && e.Name() != "staging" {
			t.Errorf("unexpected entry %q outside the gallery roots", e.Name())
		}
	}
	if names, err := s.Identities(); err != nil || len(names) != 0 {
		t.Errorf("Identities = (%v, %v), want empty", names, err)
	}
}

func TestCommitStaging_OrderAndRecommit(t *testing.T) {
	s := newTestStore(t)

	stage := func(n int) string {
		t.Helper()
		sess, err := s.NewStaging("alice")
		if err != nil {
			t.Fatalf("NewStaging failed: %v", err)
		}
		for i := 0; i < n; i++ {
			if err := sess.Add(testFace()); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
		}
		return sess.Dir
	}

	if _, err := s.CommitStaging("alice", stage(11), "alice@example.com"); err != nil {
		t.Fatalf("CommitStaging failed: %v", err)
	}

	paths, err := s.Images("alice")
	if err != nil || len(paths) != 11 {
		t.Fatalf("Images = (%d, %v), want 11", len(paths), err)
	}
	// Insertion order survives the sort even past single digits.
	for i, path := range paths {
		want := fmt.Sprintf("_%d.jpg", i+1)
		if !strings.HasSuffix(path, want) {
			t.Fatalf("paths[%d] = %s, want suffix %s", i, path, want)
		}
	}

	// An immediate second commit must not overwrite the first batch.
	if _, err := s.CommitStaging("alice", stage(3), "alice@example.com"); err != nil {
		t.Fatalf("second CommitStaging failed: %v", err)
	}
	if paths, _ := s.Images("alice"); len(paths) != 14 {
		t.Errorf("images after re-commit = %d, want 14", len(paths))
	}
}

func TestDiscardStaging_RefusesOutsidePaths(t *testing.T) {
	s := newTestStore(t)

	victim := filepath.Join(t.TempDir(), "precious")
	if err := os.MkdirAll(victim, 0700); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	s.DiscardStaging(victim)
	if _, err := os.Stat(victim); err != nil {
		t.Error("DiscardStaging removed a directory outside the staging area")
	}

	s.DiscardStaging(s.stagingDir)
	if _, err := os.Stat(s.stagingDir); err != nil {
		t.Error("DiscardStaging removed the staging root itself")
	}
}
