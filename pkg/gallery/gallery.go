// Package gallery manages the on-disk identity gallery: one directory per
// enrolled person holding JPEG face crops and a contact address, plus a
// staging area for enrollments that have not been confirmed yet.
package gallery

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facegate/facegate/pkg/imaging"
	"github.com/facegate/facegate/pkg/logging"
)

// ErrIdentityNotFound is returned when no gallery directory matches a name.
var ErrIdentityNotFound = errors.New("identity not found")

// ErrNoEmail is returned when an identity has no stored contact address.
var ErrNoEmail = errors.New("no email on record")

// ErrInvalidName is returned for identity names that cannot be used as a
// directory name under the gallery roots.
var ErrInvalidName = errors.New("invalid identity name")

// validName reports whether name stays inside a single directory level.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

const emailFile = "email.txt"

// Store is the filesystem-backed gallery. Identity names are matched case
// insensitively but directories keep the casing used at enrollment.
type Store struct {
	usersDir   string
	stagingDir string
}

// NewStore opens a gallery rooted at usersDir with pending enrollments under
// stagingDir, creating both directories if needed.
func NewStore(usersDir, stagingDir string) (*Store, error) {
	for _, dir := range []string{usersDir, stagingDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Store{usersDir: usersDir, stagingDir: stagingDir}, nil
}

// resolve maps a name to its gallery directory, ignoring case.
func (s *Store) resolve(name string) (string, bool) {
	entries, err := os.ReadDir(s.usersDir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() && strings.EqualFold(e.Name(), name) {
			return filepath.Join(s.usersDir, e.Name()), true
		}
	}
	return "", false
}

// Exists reports whether an identity is enrolled.
func (s *Store) Exists(name string) bool {
	_, ok := s.resolve(name)
	return ok
}

// Identities returns the enrolled names in sorted order.
func (s *Store) Identities() ([]string, error) {
	entries, err := os.ReadDir(s.usersDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Email returns the contact address stored for an identity.
func (s *Store) Email(name string) (string, error) {
	dir, ok := s.resolve(name)
	if !ok {
		return "", ErrIdentityNotFound
	}

	data, err := os.ReadFile(filepath.Join(dir, emailFile))
	if err != nil {
		return "", ErrNoEmail
	}
	addr := strings.TrimSpace(string(data))
	if addr == "" {
		return "", ErrNoEmail
	}
	return addr, nil
}

// SetEmail stores the contact address for an identity, creating the gallery
// directory if the identity is new.
func (s *Store) SetEmail(name, email string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	dir, ok := s.resolve(name)
	if !ok {
		dir = filepath.Join(s.usersDir, name)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create identity dir: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, emailFile), []byte(email+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write email: %w", err)
	}
	return nil
}

// Images returns the face image paths for an identity, sorted by filename so
// the timestamp prefixes give chronological order.
func (s *Store) Images(name string) ([]string, error) {
	dir, ok := s.resolve(name)
	if !ok {
		return nil, ErrIdentityNotFound
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".jpg") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// AddImage appends a face image to an enrolled identity's gallery. The file
// name carries a millisecond timestamp and a tag describing its origin.
func (s *Store) AddImage(name string, img *image.Gray, tag string) (string, error) {
	if !validName(name) {
		return "", ErrInvalidName
	}
	dir, ok := s.resolve(name)
	if !ok {
		return "", ErrIdentityNotFound
	}

	base := fmt.Sprintf("%d_%s.jpg", time.Now().UnixMilli(), tag)
	path := filepath.Join(dir, base)
	if err := imaging.SaveJPEG(path, img); err != nil {
		return "", err
	}
	return path, nil
}

// StagingSession holds face crops for an enrollment awaiting confirmation.
type StagingSession struct {
	Dir   string
	count int
}

// NewStaging creates a fresh staging directory for name. Each call produces a
// distinct directory even for the same name.
func (s *Store) NewStaging(name string) (*StagingSession, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	dir := filepath.Join(s.stagingDir, fmt.Sprintf("%s_%d_%s", name, time.Now().Unix(), token))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	return &StagingSession{Dir: dir}, nil
}

// Add writes the next face crop into the staging directory.
func (st *StagingSession) Add(img *image.Gray) error {
	st.count++
	return imaging.SaveJPEG(filepath.Join(st.Dir, fmt.Sprintf("%d.jpg", st.count)), img)
}

// Count returns how many crops have been staged.
func (st *StagingSession) Count() int {
	return st.count
}

// Discard removes the staging directory and everything in it.
func (st *StagingSession) Discard() {
	if err := os.RemoveAll(st.Dir); err != nil {
		logging.WithError(err).Warnf("Failed to remove staging dir %s", st.Dir)
	}
}

// DiscardStaging removes an abandoned staging directory by path.
func (s *Store) DiscardStaging(dir string) {
	// Refuse paths outside the staging area.
	rel, err := filepath.Rel(s.stagingDir, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		logging.Warnf("Refusing to discard %s: outside staging area", dir)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logging.WithError(err).Warnf("Failed to remove staging dir %s", dir)
	}
}

// CommitStaging moves staged crops into the identity's gallery directory,
// stores the contact address, and removes the staging directory. Returns the
// number of images committed.
func (s *Store) CommitStaging(name, stagingDir, email string) (int, error) {
	if !validName(name) {
		return 0, ErrInvalidName
	}
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging dir: %w", err)
	}

	dir, ok := s.resolve(name)
	if !ok {
		dir = filepath.Join(s.usersDir, name)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return 0, fmt.Errorf("failed to create identity dir: %w", err)
		}
	}

	var staged []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			staged = append(staged, e.Name())
		}
	}
	// Staged files are numbered 1.jpg..N.jpg; keep capture order.
	sort.Slice(staged, func(i, j int) bool {
		return stagedIndex(staged[i]) < stagedIndex(staged[j])
	})

	// Strictly increasing millisecond prefixes keep Images() in insertion
	// order; bumping past occupied names stops a rapid re-commit from
	// silently overwriting an earlier batch.
	prefix := time.Now().UnixMilli()
	moved := 0
	for _, base := range staged {
		dst := filepath.Join(dir, fmt.Sprintf("%d_%s", prefix, base))
		for {
			if _, err := os.Lstat(dst); os.IsNotExist(err) {
				break
			}
			prefix++
			dst = filepath.Join(dir, fmt.Sprintf("%d_%s", prefix, base))
		}
		if err := os.Rename(filepath.Join(stagingDir, base), dst); err != nil {
			return moved, fmt.Errorf("failed to move %s: %w", base, err)
		}
		moved++
		prefix++
	}

	if err := s.SetEmail(name, email); err != nil {
		return moved, err
	}

	if err := os.RemoveAll(stagingDir); err != nil {
		logging.WithError(err).Warnf("Failed to remove staging dir %s", stagingDir)
	}
	return moved, nil
}

func stagedIndex(base string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(base, ".jpg"))
	if err != nil {
		return 0
	}
	return n
}
