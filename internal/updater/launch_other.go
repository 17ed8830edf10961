//go:build !unix && !windows

package updater

import (
	"io"
	"os/exec"
)

func detach(cmd *exec.Cmd) {}

func (ProcessLauncher) launchElevated(string, Handoff, io.WriteCloser) error {
	return ErrElevationUnavailable
}
