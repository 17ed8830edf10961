package updater

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Launcher starts the installer. Implementations must not wait for it to
// finish.
type Launcher interface {
	Launch(installer string, h Handoff, stdout io.WriteCloser) error
}

// ErrElevationUnavailable is returned when RunAsAdmin is set but the
// platform offers no way to elevate the installer.
var ErrElevationUnavailable = errors.New("no elevation helper available")

// ProcessLauncher starts the installer as a detached OS process whose
// environment is the current environment plus the handoff contract. When
// the handoff asks for admin rights the installer is started elevated.
type ProcessLauncher struct {
	// LookPath resolves elevation helpers. Nil means exec.LookPath.
	LookPath func(file string) (string, error)
}

// Launch implements Launcher. stdout, if non-nil, receives the installer's
// output and is closed once the installer exits.
func (l ProcessLauncher) Launch(installer string, h Handoff, stdout io.WriteCloser) error {
	if installer == "" {
		return errors.New("installer path is empty")
	}
	if h.RunAsAdmin {
		return l.launchElevated(installer, h, stdout)
	}

	// Not tied to any context: the installer must outlive this process.
	cmd := exec.Command(installer)
	cmd.Env = append(os.Environ(), h.Environ()...)
	detach(cmd)
	return start(cmd, installer, stdout)
}

func (l ProcessLauncher) lookPath(file string) (string, error) {
	if l.LookPath != nil {
		return l.LookPath(file)
	}
	return exec.LookPath(file)
}

func start(cmd *exec.Cmd, installer string, stdout io.WriteCloser) error {
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if err := cmd.Start(); err != nil {
		if stdout != nil {
			stdout.Close()
		}
		return fmt.Errorf("start installer %s: %w", installer, err)
	}

	go func() {
		_ = cmd.Wait()
		if stdout != nil {
			stdout.Close()
		}
	}()
	return nil
}
