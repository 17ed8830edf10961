//go:build unix

package updater

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// detach puts the installer in its own session so it survives the
// updater's exit and terminal hangups.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// elevatedCommand wraps the installer in pkexec, falling back to
// non-interactive sudo. Both reset the environment, so the contract is
// passed on the env(1) command line.
func (l ProcessLauncher) elevatedCommand(installer string, h Handoff) (*exec.Cmd, error) {
	envPath, err := l.lookPath("env")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrElevationUnavailable, err)
	}
	args := append([]string{envPath}, h.Environ()...)
	args = append(args, installer)

	if helper, err := l.lookPath("pkexec"); err == nil {
		return exec.Command(helper, args...), nil
	}
	if helper, err := l.lookPath("sudo"); err == nil {
		return exec.Command(helper, append([]string{"-n"}, args...)...), nil
	}
	return nil, fmt.Errorf("%w: neither pkexec nor sudo found", ErrElevationUnavailable)
}

func (l ProcessLauncher) launchElevated(installer string, h Handoff, stdout io.WriteCloser) error {
	cmd, err := l.elevatedCommand(installer, h)
	if err != nil {
		return err
	}
	cmd.Env = os.Environ()
	detach(cmd)
	return start(cmd, installer, stdout)
}
