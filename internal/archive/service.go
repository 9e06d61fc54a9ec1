// Package archive keeps a git repository per statement recording every
// persisted draft save. The serialized document rides in content.html with
// the display metadata alongside, so any historical state is recoverable
// even if the database row was overwritten since. Version cuts are tagged
// v<n>.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"marginalia/api/internal/store"
)

const (
	contentFile = "content.html"
	metaFile    = "meta.json"
)

// Snapshot is one archived draft state.
type Snapshot struct {
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle"`
	HeaderImg string `json:"header_img,omitempty"`
	Version   int    `json:"version"`
	Content   string `json:"-"`
}

// Service owns the per-statement repositories under baseDir. All history is
// linear on main; versions are tags, not branches.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureRepo initializes the statement's archive with a baseline commit.
// Idempotent: an existing archive is left alone.
func (s *Service) EnsureRepo(statementID string, initial Snapshot, author string) error {
	lock := s.statementLock(statementID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(statementID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat archive path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init archive: %w", err)
	}

	hash, err := s.writeAndCommit(repo, initial, author, "Statement baseline")
	if err != nil {
		return err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD: %w", err)
	}
	return nil
}

// Commit records a snapshot. No-op commits are skipped and return the
// current head, so autosave retries do not pollute history.
func (s *Service) Commit(statementID string, snap Snapshot, author, message string) (store.CommitInfo, error) {
	lock := s.statementLock(statementID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(statementID))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open archive: %w", err)
	}

	if head, current, err := s.head(repo); err == nil && !HasChanges(current, snap) {
		return toCommitInfo(head), nil
	}

	hash, err := s.writeAndCommit(repo, snap, author, message)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// TagVersion marks the head commit as version cut v<n>.
func (s *Service) TagVersion(statementID string, version int) error {
	lock := s.statementLock(statementID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(statementID))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return fmt.Errorf("resolve main: %w", err)
	}

	name := fmt.Sprintf("v%d", version)
	_, err = repo.CreateTag(name, ref.Hash(), &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Marginalia",
			Email: "archive@localhost",
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag %s: %w", name, err)
	}
	return nil
}

// Head returns the newest archived snapshot.
func (s *Service) Head(statementID string) (Snapshot, store.CommitInfo, error) {
	lock := s.statementLock(statementID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(statementID))
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("open archive: %w", err)
	}
	commitObj, snap, err := s.head(repo)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj), nil
}

// GetByRef returns the snapshot at a commit hash, abbreviated hash, or tag
// such as "v3".
func (s *Service) GetByRef(statementID, ref string) (Snapshot, store.CommitInfo, error) {
	lock := s.statementLock(statementID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(statementID))
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("open archive: %w", err)
	}
	hash, err := resolveRef(repo, ref)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("read commit %s: %w", ref, err)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj), nil
}

// History lists commits newest first, at most limit (0 means all).
func (s *Service) History(statementID string, limit int) ([]store.CommitInfo, error) {
	lock := s.statementLock(statementID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(statementID))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var items []store.CommitInfo
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// FieldChange is one per-field difference between two archived snapshots.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Compare diffs the snapshots at two refs.
func (s *Service) Compare(statementID, fromRef, toRef string) ([]FieldChange, error) {
	from, _, err := s.GetByRef(statementID, fromRef)
	if err != nil {
		return nil, err
	}
	to, _, err := s.GetByRef(statementID, toRef)
	if err != nil {
		return nil, err
	}
	return DiffFields(from, to), nil
}

// DiffFields lists the fields that changed between two snapshots. Body
// changes are flagged rather than inlined; callers render their own diff.
func DiffFields(from, to Snapshot) []FieldChange {
	var changes []FieldChange
	appendChange := func(field, before, after string) {
		if before != after {
			changes = append(changes, FieldChange{Field: field, Before: before, After: after})
		}
	}
	appendChange("title", from.Title, to.Title)
	appendChange("subtitle", from.Subtitle, to.Subtitle)
	appendChange("header_img", from.HeaderImg, to.HeaderImg)
	if from.Version != to.Version {
		changes = append(changes, FieldChange{
			Field:  "version",
			Before: fmt.Sprintf("%d", from.Version),
			After:  fmt.Sprintf("%d", to.Version),
		})
	}
	if from.Content != to.Content {
		changes = append(changes, FieldChange{Field: "content", Before: "[document]", After: "[document]"})
	}
	return changes
}

func HasChanges(from, to Snapshot) bool {
	return len(DiffFields(from, to)) > 0
}

func (s *Service) repoPath(statementID string) string {
	return filepath.Join(s.baseDir, statementID)
}

func (s *Service) statementLock(statementID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[statementID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[statementID] = lock
	}
	return lock
}

func (s *Service) head(repo *git.Repository) (*object.Commit, Snapshot, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("load head commit: %w", err)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return nil, Snapshot{}, err
	}
	return commitObj, snap, nil
}

func (s *Service) writeAndCommit(repo *git.Repository, snap Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, metaFile), append(meta, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", metaFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, contentFile), []byte(snap.Content), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(metaFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", metaFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", contentFile, err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.marginalia.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	var snap Snapshot

	metaReader, err := commitObj.File(metaFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", metaFile, err)
	}
	metaContents, err := metaReader.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", metaFile, err)
	}
	if err := json.Unmarshal([]byte(metaContents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", metaFile, err)
	}

	contentReader, err := commitObj.File(contentFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	contents, err := contentReader.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", contentFile, err)
	}
	snap.Content = contents
	return snap, nil
}

// sanitizeEmail reduces a display name to a local-part safe for commit
// signatures.
func sanitizeEmail(input string) string {
	bytes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			bytes = append(bytes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			bytes = append(bytes, '.')
		}
	}
	if len(bytes) == 0 {
		return "user"
	}
	return string(bytes)
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if len(ref) == 40 {
		return plumbing.NewHash(ref), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve ref %s: %w", ref, err)
	}
	return *resolved, nil
}
