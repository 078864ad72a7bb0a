// Package artifact materializes published sessions into per-artifact git
// repositories, giving every publish an auditable, immutable record outside
// the collaboration store.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"atelier/api/internal/collab"
)

// Record summarizes one materialized publish.
type Record struct {
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	Author      string    `json:"author"`
	PublishedAt time.Time `json:"publishedAt"`
}

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

// Materialize writes the frozen fields of a published session into the
// artifact's repository: artifact.json plus one file per field, committed and
// tagged. Re-publishing the same session id commits on top of the previous
// materialization.
func (s *Service) Materialize(payload collab.PublishPayload) (Record, error) {
	lock := s.artifactLock(payload.SessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(payload.SessionID)
	repo, err := s.ensureRepo(path)
	if err != nil {
		return Record{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Record{}, fmt.Errorf("open worktree: %w", err)
	}

	manifest, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("marshal artifact manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "artifact.json"), append(manifest, '\n'), 0o644); err != nil {
		return Record{}, fmt.Errorf("write artifact manifest: %w", err)
	}
	if _, err := worktree.Add("artifact.json"); err != nil {
		return Record{}, fmt.Errorf("git add manifest: %w", err)
	}

	fieldNames := make([]string, 0, len(payload.Fields))
	for name := range payload.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)
	for _, name := range fieldNames {
		filename := sanitizeFilename(name) + ".md"
		if err := os.WriteFile(filepath.Join(path, filename), []byte(payload.Fields[name]+"\n"), 0o644); err != nil {
			return Record{}, fmt.Errorf("write field %s: %w", name, err)
		}
		if _, err := worktree.Add(filename); err != nil {
			return Record{}, fmt.Errorf("git add field %s: %w", name, err)
		}
	}

	message := fmt.Sprintf("Publish %s (%s)", payload.Name, payload.ArtifactType)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  payload.PublishedBy,
			Email: fmt.Sprintf("%s@local.atelier.dev", sanitizeEmail(payload.PublishedBy)),
			When:  payload.PublishedAt,
		},
	})
	if err != nil {
		return Record{}, fmt.Errorf("commit artifact: %w", err)
	}

	tag := fmt.Sprintf("published-v%d", payload.VersionCount)
	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Atelier",
			Email: "atelier@localhost",
			When:  payload.PublishedAt,
		},
		Message: tag,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Record{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Record{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRecord(commitObj), nil
}

// History lists prior materializations, newest first.
func (s *Service) History(sessionID string, limit int) ([]Record, error) {
	lock := s.artifactLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sessionID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []Record{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	records := make([]Record, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		records = append(records, toRecord(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return records, nil
}

func (s *Service) ensureRepo(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

func (s *Service) artifactLock(sessionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

func toRecord(commitObj *object.Commit) Record {
	return Record{
		Hash:        commitObj.Hash.String()[:7],
		Message:     commitObj.Message,
		Author:      commitObj.Author.Name,
		PublishedAt: commitObj.Author.When,
	}
}

func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "field"
	}
	return string(out)
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
		return "user"
	}
	return string(out)
}
