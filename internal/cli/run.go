package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type runResult struct {
	UpdateAvailable bool   `json:"updateAvailable" yaml:"updateAvailable"`
	Files           int    `json:"files" yaml:"files"`
	Blobs           int    `json:"blobs" yaml:"blobs"`
	Installed       bool   `json:"installed" yaml:"installed"`
	DiffRecord      string `json:"diffRecord,omitempty" yaml:"diffRecord,omitempty"`
}

func (r runResult) String() string {
	switch {
	case !r.UpdateAvailable:
		return "Up to date"
	case r.Installed:
		return fmt.Sprintf("Update staged (%d files, %d blobs); installer launched", r.Files, r.Blobs)
	default:
		return fmt.Sprintf("Update staged (%d files, %d blobs); run install to apply", r.Files, r.Blobs)
	}
}

func newRunCmd(o *options) *cobra.Command {
	var noInstall bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check, download, validate and install in one step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(cmd, func(s *session) error {
				diff, ok := s.u.CheckForUpdates(s.ctx)
				if !ok {
					if err := s.failure(); err != nil {
						return err
					}
					return o.out.Write(runResult{})
				}

				r := runResult{
					UpdateAvailable: true,
					Files:           diff.Len(),
					Blobs:           len(diff.UniqueHashes()),
					DiffRecord:      s.u.DiffRecordPath(),
				}
				if !s.u.DownloadUpdate(s.ctx, diff) {
					return failedOr(s, "download failed")
				}
				if !noInstall {
					// Install validates the staged blobs before launching.
					if !s.u.Install(s.ctx, diff, false) {
						return failedOr(s, "install failed")
					}
					r.Installed = true
				}
				return o.out.Write(r)
			})
		},
	}
	cmd.Flags().BoolVar(&noInstall, "no-install", false, "Stop after the update is downloaded and verified")
	return cmd
}
