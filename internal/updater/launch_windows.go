//go:build windows

package updater

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}
}

// launchElevated starts the installer through the UAC "runas" verb. The
// elevated process inherits our environment but not our handles, so there
// is no output to forward.
func (ProcessLauncher) launchElevated(installer string, h Handoff, stdout io.WriteCloser) error {
	if stdout != nil {
		stdout.Close()
	}
	for _, kv := range h.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}

	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return err
	}
	file, err := windows.UTF16PtrFromString(installer)
	if err != nil {
		return fmt.Errorf("installer path: %w", err)
	}
	dir, err := windows.UTF16PtrFromString(filepath.Dir(installer))
	if err != nil {
		return fmt.Errorf("installer dir: %w", err)
	}
	if err := windows.ShellExecute(0, verb, file, nil, dir, windows.SW_HIDE); err != nil {
		return fmt.Errorf("elevate installer %s: %w", installer, err)
	}
	return nil
}
