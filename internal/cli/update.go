package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/deltaupdate/pkg/manifest"
	"github.com/fruitsalade/deltaupdate/pkg/models"
)

type checkResult struct {
	CurrentVersion  string             `json:"currentVersion" yaml:"currentVersion"`
	UpdateAvailable bool               `json:"updateAvailable" yaml:"updateAvailable"`
	Added           []models.DiffEntry `json:"added" yaml:"added"`
	Changed         []models.DiffEntry `json:"changed" yaml:"changed"`
	DiffRecord      string             `json:"diffRecord,omitempty" yaml:"diffRecord,omitempty"`
}

func (r checkResult) String() string {
	if !r.UpdateAvailable {
		return fmt.Sprintf("Up to date (%s)", r.CurrentVersion)
	}
	var b strings.Builder
	for _, e := range r.Added {
		fmt.Fprintf(&b, "+ %s\n", e.FilePath)
	}
	for _, e := range r.Changed {
		fmt.Fprintf(&b, "~ %s\n", e.FilePath)
	}
	fmt.Fprintf(&b, "%d added, %d changed (diff record: %s)", len(r.Added), len(r.Changed), r.DiffRecord)
	return b.String()
}

func newCheckResult(s *session, diff *models.DiffSet) checkResult {
	r := checkResult{
		CurrentVersion: s.cfg.CurrentVersion,
		Added:          []models.DiffEntry{},
		Changed:        []models.DiffEntry{},
	}
	if diff != nil {
		r.UpdateAvailable = diff.Len() > 0
		r.Added = diff.Added
		r.Changed = diff.Changed
		r.DiffRecord = s.u.DiffRecordPath()
	}
	return r
}

type downloadResult struct {
	Blobs   int    `json:"blobs" yaml:"blobs"`
	Files   int    `json:"files" yaml:"files"`
	TempDir string `json:"tempDir" yaml:"tempDir"`
}

func (r downloadResult) String() string {
	return fmt.Sprintf("Downloaded %d blobs for %d files into %s", r.Blobs, r.Files, r.TempDir)
}

type validateResult struct {
	Valid   bool     `json:"valid" yaml:"valid"`
	Files   int      `json:"files" yaml:"files"`
	Missing []string `json:"missing,omitempty" yaml:"missing,omitempty"`
}

func (r validateResult) String() string {
	if r.Valid {
		return fmt.Sprintf("Staged package is complete (%d files)", r.Files)
	}
	return fmt.Sprintf("Staged package is incomplete: %d blobs missing\n  %s",
		len(r.Missing), strings.Join(r.Missing, "\n  "))
}

type installResult struct {
	Launched  bool   `json:"launched" yaml:"launched"`
	Installer string `json:"installer" yaml:"installer"`
	Forced    bool   `json:"forced" yaml:"forced"`
}

func (r installResult) String() string {
	return fmt.Sprintf("Installer %s launched", r.Installer)
}

// stagedDiff reads the diff record left by a previous check. It returns
// nil when there is none.
func stagedDiff(s *session) (*models.DiffSet, error) {
	diff, err := manifest.ReadDiffRecord(s.u.DiffRecordPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return diff, err
}

// failedOr returns the updater's reported failure, or fallback.
func failedOr(s *session, fallback string) error {
	if err := s.failure(); err != nil {
		return err
	}
	return errors.New(fallback)
}

func newCheckCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the installed tree with the remote manifest",
		Long: `Fingerprint the install directory and diff it against the remote manifest.

When the manifest is newer than the installed version the diff is written to
the diff record in the temp directory for later download and install steps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(cmd, func(s *session) error {
				diff, _ := s.u.CheckForUpdates(s.ctx)
				if diff == nil && s.failure() != nil {
					return s.failure()
				}
				return o.out.Write(newCheckResult(s, diff))
			})
		},
	}
}

func newDownloadCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download and verify the blobs in the diff record",
		Long: `Download every blob named by the diff record into the temp directory,
verifying each against its hash. Runs a check first when there is no diff
record yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(cmd, func(s *session) error {
				diff, err := stagedDiff(s)
				if err != nil {
					return err
				}
				if diff == nil {
					diff, _ = s.u.CheckForUpdates(s.ctx)
					if diff.Empty() {
						if err := s.failure(); err != nil {
							return err
						}
						return o.out.Write(newCheckResult(s, diff))
					}
				}
				if !s.u.DownloadUpdate(s.ctx, diff) {
					return failedOr(s, "download failed")
				}
				return o.out.Write(downloadResult{
					Blobs:   len(diff.UniqueHashes()),
					Files:   diff.Len(),
					TempDir: s.cfg.TempDir,
				})
			})
		},
	}
}

func newValidateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that every staged blob is present and intact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(cmd, func(s *session) error {
				diff, err := stagedDiff(s)
				if err != nil {
					return err
				}
				valid := s.u.ValidateDiffPackageIntegrity(s.ctx, diff)
				if diff == nil {
					// Validation recomputed the diff; use the fresh record.
					if diff, err = stagedDiff(s); err != nil {
						return err
					}
				}

				r := validateResult{Valid: valid, Files: diff.Len()}
				if !valid {
					r.Missing = s.cache.Missing(diff.UniqueHashes())
				}
				if err := o.out.Write(r); err != nil {
					return err
				}
				if !valid {
					return failedOr(s, "staged package is incomplete")
				}
				return nil
			})
		},
	}
}

func newInstallCmd(o *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Launch the installer for the staged update",
		Long: `Validate the staged update and launch the installer as a detached process.
The installer receives exe_path, update_temp_path, update_config_file_name
and exe_pid in its environment. --force skips validation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withSession(cmd, func(s *session) error {
				diff, err := stagedDiff(s)
				if err != nil {
					return err
				}
				if !s.u.Install(s.ctx, diff, force) {
					return failedOr(s, "install failed")
				}
				return o.out.Write(installResult{
					Launched:  true,
					Installer: s.cfg.InstallerPath,
					Forced:    force,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Launch the installer without validating the staged blobs")
	return cmd
}
