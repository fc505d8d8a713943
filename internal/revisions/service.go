package revisions

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
)

// Revision describes one entry in an item's publish history.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service keeps a git repository per site and commits the canonical JSON of
// every published item, so each publish is an inspectable revision.
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

// RecordPublish commits the published form of an item to the site's history.
// The site repository is created on first use.
func (s *Service) RecordPublish(siteID, itemID string, payload map[string]any, author, message string) (Revision, error) {
	lock := s.siteLock(siteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(siteID, author)
	if err != nil {
		return Revision{}, err
	}

	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal item payload: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}
	rel := itemPath(itemID)
	abs := filepath.Join(worktree.Filesystem.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Revision{}, fmt.Errorf("create items dir: %w", err)
	}
	if err := os.WriteFile(abs, append(body, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write item file: %w", err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return Revision{}, fmt.Errorf("git add item: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit publish: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// RecordDelete removes an item's file from the site's history with a commit,
// so deletions remain visible in the log. Missing files are a no-op.
func (s *Service) RecordDelete(siteID, itemID, author string) (Revision, error) {
	lock := s.siteLock(siteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(siteID))
	if err != nil {
		return Revision{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}
	rel := itemPath(itemID)
	if _, err := os.Stat(filepath.Join(worktree.Filesystem.Root(), rel)); errors.Is(err, os.ErrNotExist) {
		return Revision{}, nil
	}
	if _, err := worktree.Remove(rel); err != nil {
		return Revision{}, fmt.Errorf("git rm item: %w", err)
	}

	hash, err := worktree.Commit(fmt.Sprintf("Delete %s", itemID), &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit delete: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// History lists an item's publish revisions, newest first.
func (s *Service) History(siteID, itemID string, limit int) ([]Revision, error) {
	lock := s.siteLock(siteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(siteID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	rel := itemPath(itemID)
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash(), FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetByHash returns the item payload as it was at a given revision.
func (s *Service) GetByHash(siteID, itemID, hash string) (map[string]any, error) {
	lock := s.siteLock(siteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(siteID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := commitObj.File(itemPath(itemID))
	if err != nil {
		return nil, fmt.Errorf("load item from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open item reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read item bytes: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode item payload: %w", err)
	}
	return payload, nil
}

func (s *Service) ensureRepo(siteID, author string) (*git.Repository, error) {
	path := s.repoPath(siteID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, fmt.Errorf("open repo: %w", err)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	marker, err := json.MarshalIndent(map[string]string{"site": siteID}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal site marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "site.json"), append(marker, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write site marker: %w", err)
	}
	if _, err := worktree.Add("site.json"); err != nil {
		return nil, fmt.Errorf("git add site marker: %w", err)
	}
	hash, err := worktree.Commit("Initialize site history", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return nil, fmt.Errorf("commit site baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(siteID string) string {
	return filepath.Join(s.baseDir, siteID)
}

func (s *Service) siteLock(siteID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[siteID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[siteID] = lock
	return lock
}

func itemPath(itemID string) string {
	return filepath.Join("items", itemID+".json")
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.inkwell.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "editor"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
