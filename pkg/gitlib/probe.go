package gitlib

import "github.com/Sumatoshi-tech/marathon/pkg/checkpoint"

// Probe opens the workspace repository on every call, so it never holds
// libgit2 handles between orchestrator ticks.
type Probe struct{}

// NewProbe returns a Probe.
func NewProbe() *Probe {
	return &Probe{}
}

// HeadCommit returns the hex HEAD commit of the repository containing dir.
func (p *Probe) HeadCommit(dir string) (string, error) {
	repo, err := OpenRepository(dir)
	if err != nil {
		return "", err
	}
	defer repo.Free()

	head, err := repo.Head()
	if err != nil {
		return "", err
	}

	return head.String(), nil
}

// Checkpoint returns the full marker for the repository containing dir.
func (p *Probe) Checkpoint(dir string) (*checkpoint.GitCheckpointInfo, error) {
	repo, err := OpenRepository(dir)
	if err != nil {
		return nil, err
	}
	defer repo.Free()

	return repo.Checkpoint()
}
