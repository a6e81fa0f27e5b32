// Package gitworkspace implements branch operations scoped to a single
// site's working-copy checkout: initialize, branch, commit, merge, and
// history. Every operation shells out to the local git binary through the
// shared process runner; there is no network or hosted-provider dependency.
package gitworkspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sitedeploy/internal/errs"
	"sitedeploy/internal/logging"
	"sitedeploy/internal/process"
)

const (
	mainBranch   = "main"
	gitTimeout   = 60 * time.Second
	defaultOwner = "deploy-control-plane"
)

// Status summarizes a checkout's working-tree state.
type Status struct {
	IsRepo        bool
	CurrentBranch string
	Dirty         bool
	Untracked     []string
	Modified      []string
}

// Commit is one entry in a branch's history.
type Commit struct {
	Hash    string
	Message string
	Author  string
	When    time.Time
}

// Service performs git operations against site checkouts on disk.
type Service struct {
	runner *process.Runner
}

// NewService constructs a git workspace service.
func NewService() *Service {
	return &Service{runner: process.NewRunner()}
}

func (s *Service) run(ctx context.Context, path string, args ...string) process.Result {
	return s.runner.Run(ctx, process.Spec{
		Dir:     path,
		Argv:    append([]string{"git"}, args...),
		Timeout: gitTimeout,
	})
}

func repoErr(op string, res process.Result) *errs.Error {
	detail := strings.TrimSpace(res.Stderr)
	if detail == "" {
		detail = res.Err.Error()
	}
	return errs.New(errs.KindRepo, op, detail)
}

// Initialize creates a repository at path if one does not already exist,
// writes a default ignore list, and produces an initial commit of the
// working tree. Idempotent: calling it twice on an already-initialized
// checkout is a no-op.
func (s *Service) Initialize(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errs.Wrap(errs.KindRepo, "gitworkspace.Initialize", err)
	}
	st, err := s.Status(ctx, path)
	if err != nil {
		return err
	}
	if st.IsRepo {
		return nil
	}

	if res := s.run(ctx, path, "init", "-b", mainBranch); !res.Succeeded() {
		return repoErr("gitworkspace.Initialize", res)
	}

	if res := s.run(ctx, path, "config", "user.email", "deploy@control-plane.local"); !res.Succeeded() {
		return repoErr("gitworkspace.Initialize", res)
	}
	if res := s.run(ctx, path, "config", "user.name", defaultOwner); !res.Succeeded() {
		return repoErr("gitworkspace.Initialize", res)
	}

	if err := writeDefaultIgnore(path); err != nil {
		return errs.Wrap(errs.KindRepo, "gitworkspace.Initialize", err)
	}

	if res := s.run(ctx, path, "add", "-A"); !res.Succeeded() {
		return repoErr("gitworkspace.Initialize", res)
	}

	res := s.run(ctx, path, "commit", "--allow-empty", "-m", "Initial commit")
	if !res.Succeeded() {
		return repoErr("gitworkspace.Initialize", res)
	}

	logging.S().Infow("git repository initialized", "path", path)
	return nil
}

// Clone populates an empty path by cloning url into it, for sites
// registered with an upstream repository instead of an empty working
// tree. A no-op if path already contains a repository.
func (s *Service) Clone(ctx context.Context, url, path string) error {
	if _, err := os.Stat(path); err == nil {
		st, err := s.Status(ctx, path)
		if err != nil {
			return err
		}
		if st.IsRepo {
			return nil
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errs.Wrap(errs.KindRepo, "gitworkspace.Clone", err)
	}

	runner := process.NewRunner()
	res := runner.Run(ctx, process.Spec{
		Dir:     filepath.Dir(path),
		Argv:    []string{"git", "clone", "--", url, path},
		Timeout: 5 * time.Minute,
	})
	if !res.Succeeded() {
		return repoErr("gitworkspace.Clone", res)
	}

	if res := s.run(ctx, path, "checkout", "-B", mainBranch); !res.Succeeded() {
		return repoErr("gitworkspace.Clone", res)
	}
	logging.S().Infow("git repository cloned", "url", url, "path", path)
	return nil
}

// CreateEditBranch checks out main, creates "<base>-<unixMilli>", and
// checks it out. Fails with a RepoError if main cannot be checked out
// (i.e. the tree is dirty in a way git refuses to switch through).
func (s *Service) CreateEditBranch(ctx context.Context, path, base string) (string, error) {
	if base == "" {
		base = "edit"
	}

	if res := s.run(ctx, path, "checkout", mainBranch); !res.Succeeded() {
		return "", repoErr("gitworkspace.CreateEditBranch", res)
	}

	branch := fmt.Sprintf("%s-%d", base, time.Now().UnixMilli())
	if res := s.run(ctx, path, "checkout", "-b", branch); !res.Succeeded() {
		return "", repoErr("gitworkspace.CreateEditBranch", res)
	}

	return branch, nil
}

// Status reports whether path is a repository and, if so, its current
// branch and working-tree cleanliness.
func (s *Service) Status(ctx context.Context, path string) (Status, error) {
	check := s.run(ctx, path, "rev-parse", "--is-inside-work-tree")
	if !check.Succeeded() {
		return Status{IsRepo: false}, nil
	}

	branchRes := s.run(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	branch := strings.TrimSpace(branchRes.Stdout)

	portRes := s.run(ctx, path, "status", "--porcelain")
	if !portRes.Succeeded() {
		return Status{}, repoErr("gitworkspace.Status", portRes)
	}

	st := Status{IsRepo: true, CurrentBranch: branch}
	for _, line := range strings.Split(portRes.Stdout, "\n") {
		if line == "" {
			continue
		}
		code := line[:2]
		file := strings.TrimSpace(line[2:])
		if strings.Contains(code, "?") {
			st.Untracked = append(st.Untracked, file)
		} else {
			st.Modified = append(st.Modified, file)
		}
	}
	st.Dirty = len(st.Untracked) > 0 || len(st.Modified) > 0
	return st, nil
}

// Commit stages all changes and commits them. When message is empty, one
// is auto-generated from the changed file list: "Update <files>" for up to
// three files, else "Update N files". Returns "" (with no error and no DB
// side effect expected of the caller) when the working tree is clean.
func (s *Service) Commit(ctx context.Context, path, message, author string) (string, error) {
	st, err := s.Status(ctx, path)
	if err != nil {
		return "", err
	}
	if !st.Dirty {
		return "", nil
	}

	if res := s.run(ctx, path, "add", "-A"); !res.Succeeded() {
		return "", repoErr("gitworkspace.Commit", res)
	}

	if message == "" {
		message = autoMessage(append(append([]string{}, st.Modified...), st.Untracked...))
	}

	args := []string{"commit", "-m", message}
	if author != "" {
		args = append(args, "--author", fmt.Sprintf("%s <%s@control-plane.local>", author, author))
	}
	res := s.run(ctx, path, args...)
	if !res.Succeeded() {
		return "", repoErr("gitworkspace.Commit", res)
	}

	hashRes := s.run(ctx, path, "rev-parse", "HEAD")
	if !hashRes.Succeeded() {
		return "", repoErr("gitworkspace.Commit", hashRes)
	}
	return strings.TrimSpace(hashRes.Stdout), nil
}

func autoMessage(files []string) string {
	if len(files) == 0 {
		return "Update files"
	}
	if len(files) <= 3 {
		return "Update " + strings.Join(files, ", ")
	}
	return fmt.Sprintf("Update %d files", len(files))
}

// Checkout switches the working tree to branch.
func (s *Service) Checkout(ctx context.Context, path, branch string) error {
	if res := s.run(ctx, path, "checkout", branch); !res.Succeeded() {
		return repoErr("gitworkspace.Checkout", res)
	}
	return nil
}

// DeleteBranch removes branch. When force is true, uses -D to discard
// unmerged commits (used for sessions that are being abandoned, not
// deployed).
func (s *Service) DeleteBranch(ctx context.Context, path, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if res := s.run(ctx, path, "branch", flag, branch); !res.Succeeded() {
		return repoErr("gitworkspace.DeleteBranch", res)
	}
	return nil
}

// ListBranches returns all local branch names, sorted.
func (s *Service) ListBranches(ctx context.Context, path string) ([]string, error) {
	res := s.run(ctx, path, "branch", "--format=%(refname:short)")
	if !res.Succeeded() {
		return nil, repoErr("gitworkspace.ListBranches", res)
	}
	var out []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	sort.Strings(out)
	return out, nil
}

// History returns up to limit most recent commits reachable from HEAD.
func (s *Service) History(ctx context.Context, path string, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 20
	}
	const sep = "\x1f"
	format := strings.Join([]string{"%H", "%s", "%an", "%cI"}, sep)
	res := s.run(ctx, path, "log", fmt.Sprintf("-n%d", limit), "--format="+format)
	if !res.Succeeded() {
		return nil, repoErr("gitworkspace.History", res)
	}

	var commits []Commit
	for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, sep)
		if len(parts) != 4 {
			continue
		}
		when, _ := time.Parse(time.RFC3339, parts[3])
		commits = append(commits, Commit{Hash: parts[0], Message: parts[1], Author: parts[2], When: when})
	}
	return commits, nil
}

// MergeToMain checks out main, merges branch into it (no fast-forward so
// the merge always produces a commit), and deletes branch on success. On
// conflict, the merge is aborted and a ConflictError is returned; the branch
// is left intact so the caller can retry.
func (s *Service) MergeToMain(ctx context.Context, path, branch string) error {
	if res := s.run(ctx, path, "checkout", mainBranch); !res.Succeeded() {
		return repoErr("gitworkspace.MergeToMain", res)
	}

	res := s.run(ctx, path, "merge", "--no-ff", "-m", fmt.Sprintf("Merge %s into main", branch), branch)
	if !res.Succeeded() {
		s.run(ctx, path, "merge", "--abort")
		return errs.New(errs.KindConflict, "gitworkspace.MergeToMain", strings.TrimSpace(res.Stderr))
	}

	if res := s.run(ctx, path, "branch", "-d", branch); !res.Succeeded() {
		logging.S().Warnw("merge succeeded but branch delete failed", "branch", branch, "stderr", res.Stderr)
	}
	return nil
}

func writeDefaultIgnore(path string) error {
	return writeFileIfAbsent(path+"/.gitignore", defaultIgnoreContents)
}

const defaultIgnoreContents = `node_modules/
.env
.env.local
__pycache__/
*.pyc
venv/
.venv/
target/
dist/
build/
.next/
.DS_Store
`

func writeFileIfAbsent(path, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}
