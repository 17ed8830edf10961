// Package cli implements the updater command line.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/deltaupdate/internal/output"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// options holds global flags and the streams commands write to.
type options struct {
	configPath     string
	outputFormat   string
	logLevel       string
	logFormat      string
	manifestURL    string
	currentVersion string
	installDir     string
	tempDir        string

	stdout io.Writer
	stderr io.Writer
	out    *output.Writer
}

// Execute runs the root command against the process streams.
func Execute(version, commit, date string) error {
	info := BuildInfo{Version: version, Commit: commit, Date: date}
	return NewRootCmd(info, os.Stdout, os.Stderr).Execute()
}

// NewRootCmd builds the command tree. Results go to stdout, progress
// events to stderr.
func NewRootCmd(info BuildInfo, stdout, stderr io.Writer) *cobra.Command {
	o := &options{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "updater",
		Short: "Delta updates for installed applications",
		Long: `updater fingerprints an installed application, compares it with a remote
manifest, downloads only the files that changed and hands off to an installer.

Configuration comes from defaults, an optional --config file, UPDATER_*
environment variables and flags, in increasing order of precedence.`,
		Version:      info.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(o.outputFormat)
			if err != nil {
				return err
			}
			o.out = output.NewWriter(o.stdout, format)
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Path to config file (yaml, json or toml)")
	pf.StringVarP(&o.outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	pf.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&o.logFormat, "log-format", "", "Log format: json, console")
	pf.StringVar(&o.manifestURL, "manifest-url", "", "Remote manifest URL (http, https, file or s3)")
	pf.StringVar(&o.currentVersion, "current-version", "", "Installed application version")
	pf.StringVar(&o.installDir, "install-dir", "", "Installed application directory")
	pf.StringVar(&o.tempDir, "temp-dir", "", "Directory for verified blobs and the diff record")

	rootCmd.AddCommand(newCheckCmd(o))
	rootCmd.AddCommand(newDownloadCmd(o))
	rootCmd.AddCommand(newValidateCmd(o))
	rootCmd.AddCommand(newInstallCmd(o))
	rootCmd.AddCommand(newRunCmd(o))
	rootCmd.AddCommand(newFingerprintCmd(o))
	rootCmd.AddCommand(newPackCmd(o))
	rootCmd.AddCommand(newCacheCmd(o))
	rootCmd.AddCommand(newVersionCmd(o, info))

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd
}
