// internal/git/repo.go
package git

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// snapshotAuthor signs workspace snapshot commits.
var snapshotAuthor = object.Signature{
	Name:  "inkforge",
	Email: "inkforge@localhost",
}

// Repo represents the workspace's Git repository
type Repo struct {
	path string
	repo *git.Repository
}

// FileStatus represents the status of a single file
type FileStatus struct {
	Path   string `json:"path"`
	Status string `json:"status"` // "modified", "added", "deleted", "untracked", etc.
}

// RepoStatus represents the current status of the repository
type RepoStatus struct {
	Branch    string       `json:"branch"`
	Modified  []FileStatus `json:"modified"`
	Staged    []FileStatus `json:"staged"`
	Untracked []FileStatus `json:"untracked"`
	IsClean   bool         `json:"isClean"`
}

// LogEntry is one commit in the history listing
type LogEntry struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Open opens a git repository at the given path
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	return &Repo{
		path: path,
		repo: repo,
	}, nil
}

// InitIfNeeded opens the repository at path, initializing a fresh one
// when none exists yet.
func InitIfNeeded(path string) (*Repo, error) {
	repo, err := git.PlainInit(path, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init git repository: %w", err)
	}
	return &Repo{path: path, repo: repo}, nil
}

// Status returns the current status of the repository
func (r *Repo) Status() (*RepoStatus, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	branch, err := r.CurrentBranch()
	if err != nil {
		branch = "" // Branch might not exist yet (empty repo)
	}

	repoStatus := &RepoStatus{
		Branch:    branch,
		Modified:  make([]FileStatus, 0),
		Staged:    make([]FileStatus, 0),
		Untracked: make([]FileStatus, 0),
		IsClean:   status.IsClean(),
	}

	for path, fileStatus := range status {
		fs := FileStatus{Path: path}

		// Check staging area status
		if fileStatus.Staging != git.Unmodified && fileStatus.Staging != git.Untracked {
			fs.Status = mapStatusCode(fileStatus.Staging)
			repoStatus.Staged = append(repoStatus.Staged, fs)
		}

		// Check worktree status
		if fileStatus.Worktree == git.Untracked {
			fs.Status = "untracked"
			repoStatus.Untracked = append(repoStatus.Untracked, fs)
		} else if fileStatus.Worktree != git.Unmodified {
			fs.Status = mapStatusCode(fileStatus.Worktree)
			repoStatus.Modified = append(repoStatus.Modified, fs)
		}
	}

	return repoStatus, nil
}

// Commit stages everything and commits. Returns the commit hash, or
// empty with no error when the worktree is already clean.
func (r *Repo) Commit(message string) (string, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	author := snapshotAuthor
	author.When = time.Now()
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: &author})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// Snapshot commits the whole worktree with a round-stamped message,
// used after each applied auto-write round.
func (r *Repo) Snapshot(label string) (string, error) {
	return r.Commit(fmt.Sprintf("snapshot: %s", label))
}

// Log returns up to limit commits, newest first.
func (r *Repo) Log(limit int) ([]LogEntry, error) {
	iter, err := r.repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var entries []LogEntry
	err = iter.ForEach(func(c *object.Commit) error {
		entries = append(entries, LogEntry{
			Hash:    c.Hash.String(),
			Message: strings.TrimSpace(c.Message),
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		if limit > 0 && len(entries) >= limit {
			return errStopIter
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIter) {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return entries, nil
}

var errStopIter = errors.New("stop")

// mapStatusCode converts go-git status codes to human-readable strings
func mapStatusCode(code git.StatusCode) string {
	switch code {
	case git.Unmodified:
		return "unmodified"
	case git.Untracked:
		return "untracked"
	case git.Modified:
		return "modified"
	case git.Added:
		return "added"
	case git.Deleted:
		return "deleted"
	case git.Renamed:
		return "renamed"
	case git.Copied:
		return "copied"
	case git.UpdatedButUnmerged:
		return "updated-but-unmerged"
	default:
		return "unknown"
	}
}

// CurrentBranch returns the name of the current branch
// Uses git command instead of go-git because go-git doesn't handle worktrees correctly
func (r *Repo) CurrentBranch() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = r.path

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	branch := strings.TrimSpace(string(output))
	if branch == "HEAD" {
		return "", fmt.Errorf("HEAD is detached")
	}

	return branch, nil
}

// RunGitCommand executes a git command and returns the output
func (r *Repo) RunGitCommand(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.path

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("git command failed: %w, stderr: %s", err, stderr.String())
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Diff returns the diff output for the repository
// If cached is true, returns staged changes; otherwise returns unstaged changes
func (r *Repo) Diff(cached bool) (string, error) {
	args := []string{"diff"}
	if cached {
		args = append(args, "--cached")
	}

	return r.RunGitCommand(args...)
}
