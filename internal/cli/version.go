package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

type versionResult struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
}

func (r versionResult) String() string {
	return fmt.Sprintf("updater %s (commit %s, built %s, %s)", r.Version, r.Commit, r.Date, r.GoVersion)
}

func newVersionCmd(o *options, info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.out.Write(versionResult{
				Version:   info.Version,
				Commit:    info.Commit,
				Date:      info.Date,
				GoVersion: runtime.Version(),
			})
		},
	}
}
