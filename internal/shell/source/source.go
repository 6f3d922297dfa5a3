// Package source places unit source trees in the workspace, either by
// cloning their repository or by linking a local checkout.
package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/mitchellh/go-homedir"
)

// =============================================================================
// Types
// =============================================================================

// Mode selects how a source tree is acquired.
type Mode int

const (
	// ModeFetch clones the repository at the requested revision.
	ModeFetch Mode = iota
	// ModeLink symlinks a local checkout; Repository is a filesystem path.
	ModeLink
)

func (m Mode) String() string {
	switch m {
	case ModeFetch:
		return "fetch"
	case ModeLink:
		return "link"
	default:
		return "unknown"
	}
}

// Spec identifies a source tree.
type Spec struct {
	Repository string
	Branch     string // branch or tag; empty means the remote HEAD
}

// Outcome reports what Acquire did.
type Outcome int

const (
	Reused Outcome = iota // destination already existed
	Cloned
	Linked
)

func (o Outcome) String() string {
	switch o {
	case Reused:
		return "reused"
	case Cloned:
		return "cloned"
	case Linked:
		return "linked"
	default:
		return "unknown"
	}
}

// =============================================================================
// Acquirer
// =============================================================================

// Acquirer fetches or links source trees.
type Acquirer struct {
	depth    int       // clone depth, 0 for full history
	progress io.Writer // clone progress, may be nil
}

// NewAcquirer creates an Acquirer. depth 1 gives a shallow clone.
func NewAcquirer(depth int, progress io.Writer) *Acquirer {
	return &Acquirer{depth: depth, progress: progress}
}

// Acquire places the source tree described by spec at dir.
// An existing dir (including a symlink) is left untouched; refresh it with
// an explicit reset. On failure no partial tree is left behind.
func (a *Acquirer) Acquire(ctx context.Context, dir string, spec Spec, mode Mode) (Outcome, error) {
	if _, err := os.Lstat(dir); err == nil {
		return Reused, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Reused, NewAcquireError(mode, dir, spec.Repository, err.Error(), err)
	}

	switch mode {
	case ModeFetch:
		return Cloned, a.clone(ctx, dir, spec)
	case ModeLink:
		return Linked, a.link(dir, spec)
	default:
		return Reused, NewAcquireError(mode, dir, spec.Repository, "mode must be fetch or link", ErrUnknownMode)
	}
}

// clone tries spec.Branch as a branch first and as a tag second.
func (a *Acquirer) clone(ctx context.Context, dir string, spec Spec) error {
	var lastErr error
	for _, ref := range candidateRefs(spec.Branch) {
		_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:           spec.Repository,
			ReferenceName: ref,
			SingleBranch:  true,
			Depth:         a.depth,
			Progress:      a.progress,
		})
		if err == nil {
			return nil
		}
		os.RemoveAll(dir)
		lastErr = err
		if !isMissingRef(err) {
			break
		}
	}

	if isMissingRef(lastErr) {
		return NewAcquireError(ModeFetch, dir, spec.Repository, "no branch or tag named "+spec.Branch, ErrRevisionNotFound)
	}
	return NewAcquireError(ModeFetch, dir, spec.Repository, lastErr.Error(), errors.Join(ErrCloneFailed, lastErr))
}

func (a *Acquirer) link(dir string, spec Spec) error {
	target, err := homedir.Expand(spec.Repository)
	if err != nil {
		return NewAcquireError(ModeLink, dir, spec.Repository, err.Error(), ErrSourceNotFound)
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return NewAcquireError(ModeLink, dir, spec.Repository, err.Error(), ErrSourceNotFound)
	}

	info, err := os.Stat(target)
	if err != nil {
		return NewAcquireError(ModeLink, dir, spec.Repository, "local checkout does not exist", ErrSourceNotFound)
	}
	if !info.IsDir() {
		return NewAcquireError(ModeLink, dir, spec.Repository, "local checkout is not a directory", ErrSourceNotFound)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return NewAcquireError(ModeLink, dir, spec.Repository, err.Error(), errors.Join(ErrLinkFailed, err))
	}
	if err := os.Symlink(target, dir); err != nil {
		return NewAcquireError(ModeLink, dir, spec.Repository, err.Error(), errors.Join(ErrLinkFailed, err))
	}
	return nil
}

// candidateRefs lists the references to try for a revision name.
//
// Example:
//
//	candidateRefs("v6") // refs/heads/v6, refs/tags/v6
func candidateRefs(revision string) []plumbing.ReferenceName {
	if revision == "" {
		return []plumbing.ReferenceName{""}
	}
	return []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(revision),
		plumbing.NewTagReferenceName(revision),
	}
}

func isMissingRef(err error) bool {
	return errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, git.NoMatchingRefSpecError{})
}
