package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/exec"
)

// ErrNotRepo is returned when the path is not inside a git work tree.
var ErrNotRepo = errors.New("not a git repository")

// defaultTimeout bounds each git invocation.
const defaultTimeout = time.Minute

// artifactsExclude keeps the harness's own files out of the diff.
const artifactsExclude = ":(exclude).verifix"

// Repo implements DiffSource using go-git for repository inspection and the
// git binary for snapshots and diffs.
type Repo struct {
	path   string
	repo   *gogit.Repository
	runner exec.CommandRunner
	logger *zap.Logger
}

// Open opens the repository containing path.
func Open(path string, runner exec.CommandRunner, logger *zap.Logger) (*Repo, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotRepo)
		}
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	if runner == nil {
		runner = exec.NewRunner()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{
		path:   path,
		repo:   repo,
		runner: runner,
		logger: logger.Named("git"),
	}, nil
}

// Head returns the commit HEAD points at, or "" for an unborn branch.
func (r *Repo) Head(_ context.Context) (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("getting HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Snapshot records the run's starting point. Uncommitted changes to tracked
// files are captured with "git stash create", which writes a commit without
// touching the working tree, the index or the stash list.
func (r *Repo) Snapshot(ctx context.Context) (Baseline, error) {
	head, err := r.Head(ctx)
	if err != nil {
		return Baseline{}, err
	}
	untracked, err := r.Untracked(ctx)
	if err != nil {
		return Baseline{}, err
	}
	base := Baseline{Commit: head, Untracked: untracked}
	if head == "" {
		return base, nil
	}

	// The identity only labels the dangling commit.
	out, err := r.run(ctx, "-c", "user.name=verifix", "-c", "user.email=verifix@localhost", "stash", "create")
	if err != nil {
		return Baseline{}, err
	}
	if stash := strings.TrimSpace(out); stash != "" {
		base.Commit = stash
	}
	return base, nil
}

// Diff returns the working-tree diff against base. Files created since the
// snapshot are registered intent-to-add for the duration of the diff so they
// show up, and the index is restored afterwards.
func (r *Repo) Diff(ctx context.Context, base Baseline) (string, error) {
	untracked, err := r.Untracked(ctx)
	if err != nil {
		return "", err
	}
	created := newFiles(untracked, base.Untracked)
	if len(created) > 0 {
		if _, err := r.run(ctx, append([]string{"add", "--intent-to-add", "--"}, created...)...); err != nil {
			return "", err
		}
		defer func() {
			// Detach from ctx so a canceled run still restores the index.
			restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
			defer cancel()
			if _, err := r.run(restoreCtx, append([]string{"reset", "-q", "--"}, created...)...); err != nil {
				r.logger.Warn("restore index after diff", zap.Error(err))
			}
		}()
	}

	args := []string{"diff", "--no-color", "--no-ext-diff"}
	if base.Commit != "" {
		args = append(args, base.Commit)
	}
	args = append(args, "--", ".", artifactsExclude)
	return r.run(ctx, args...)
}

func newFiles(now, before []string) []string {
	seen := make(map[string]bool, len(before))
	for _, f := range before {
		seen[f] = true
	}
	var out []string
	for _, f := range now {
		if !seen[f] {
			out = append(out, f)
		}
	}
	return out
}

// Untracked lists untracked, non-ignored files outside the artifacts directory.
func (r *Repo) Untracked(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "ls-files", "--others", "--exclude-standard", "-z", "--", ".", artifactsExclude)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// run executes a git command and returns its stdout.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.runner.Run(ctx, r.path, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git %s: exit %d: %s", strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}
