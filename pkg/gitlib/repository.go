package gitlib

import (
	"errors"
	"fmt"
	"sort"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/marathon/pkg/checkpoint"
)

// ErrUnbornHead is returned when the repository has no commits yet.
var ErrUnbornHead = errors.New("repository has no commits")

// Repository wraps a libgit2 repository.
type Repository struct {
	repo *git2go.Repository
	path string
}

// OpenRepository opens the git repository containing path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepositoryExtended(path, 0, "")
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the repository path.
func (r *Repository) Path() string {
	return r.path
}

// Free releases the repository resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// Head returns the commit HEAD points to.
func (r *Repository) Head() (Hash, error) {
	unborn, err := r.repo.IsHeadUnborn()
	if err == nil && unborn {
		return Hash{}, ErrUnbornHead
	}

	ref, err := r.repo.Head()
	if err != nil {
		return Hash{}, fmt.Errorf("get HEAD: %w", err)
	}
	defer ref.Free()

	return HashFromOid(ref.Target()), nil
}

// Branch returns the short name of the checked-out branch, or "HEAD" when detached.
func (r *Repository) Branch() (string, error) {
	detached, err := r.repo.IsHeadDetached()
	if err == nil && detached {
		return "HEAD", nil
	}

	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}
	defer ref.Free()

	return ref.Shorthand(), nil
}

// Status lists staged and modified paths, each sorted. Untracked files count
// as modified.
func (r *Repository) Status() (staged, modified []string, err error) {
	list, err := r.repo.StatusList(&git2go.StatusOptions{
		Show:  git2go.StatusShowIndexAndWorkdir,
		Flags: git2go.StatusOptIncludeUntracked | git2go.StatusOptRecurseUntrackedDirs,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read status: %w", err)
	}
	defer list.Free()

	count, err := list.EntryCount()
	if err != nil {
		return nil, nil, fmt.Errorf("count status entries: %w", err)
	}

	for i := range count {
		entry, entryErr := list.ByIndex(i)
		if entryErr != nil {
			return nil, nil, fmt.Errorf("status entry %d: %w", i, entryErr)
		}

		if entry.Status&stagedMask != 0 {
			staged = append(staged, entry.HeadToIndex.NewFile.Path)
		}

		if entry.Status&modifiedMask != 0 {
			modified = append(modified, entry.IndexToWorkdir.NewFile.Path)
		}
	}

	sort.Strings(staged)
	sort.Strings(modified)

	return staged, modified, nil
}

const (
	stagedMask = git2go.StatusIndexNew | git2go.StatusIndexModified | git2go.StatusIndexDeleted |
		git2go.StatusIndexRenamed | git2go.StatusIndexTypeChange
	modifiedMask = git2go.StatusWtNew | git2go.StatusWtModified | git2go.StatusWtDeleted |
		git2go.StatusWtRenamed | git2go.StatusWtTypeChange
)

// Checkpoint captures the repository state as a checkpoint marker.
func (r *Repository) Checkpoint() (*checkpoint.GitCheckpointInfo, error) {
	head, err := r.Head()
	if err != nil {
		return nil, err
	}

	branch, err := r.Branch()
	if err != nil {
		return nil, err
	}

	staged, modified, err := r.Status()
	if err != nil {
		return nil, err
	}

	return &checkpoint.GitCheckpointInfo{
		Branch:        branch,
		CommitHash:    head.String(),
		Dirty:         len(staged)+len(modified) > 0,
		StagedFiles:   staged,
		ModifiedFiles: modified,
	}, nil
}
