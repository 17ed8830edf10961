package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/deltaupdate/pkg/hasher"
	"github.com/fruitsalade/deltaupdate/pkg/models"
	"github.com/fruitsalade/deltaupdate/pkg/tree"
)

type fingerprintResult struct {
	Path     string       `json:"path" yaml:"path"`
	Hash     string       `json:"hash" yaml:"hash"`
	Files    int          `json:"files" yaml:"files"`
	Nodes    int          `json:"nodes" yaml:"nodes"`
	Duration string       `json:"duration" yaml:"duration"`
	Tree     *models.Node `json:"tree,omitempty" yaml:"-"`
}

func (r fingerprintResult) String() string {
	return fmt.Sprintf("%s  %s (%d files, %s)", r.Hash, r.Path, r.Files, r.Duration)
}

func newFingerprintCmd(o *options) *cobra.Command {
	var withTree bool
	cmd := &cobra.Command{
		Use:   "fingerprint [path]",
		Short: "Print the content hash of a file or directory tree",
		Long: `Hash a file or directory the same way the updater hashes the install
directory. Defaults to the configured install directory. Exclude patterns
and hash_sorted from the config apply.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			path := cfg.InstallDir
			if len(args) == 1 {
				path = args[0]
			}

			start := time.Now()
			root, err := hasher.Fingerprint(path, cfg.HasherOptions())
			if err != nil {
				return err
			}
			if root == nil {
				return fmt.Errorf("%s is excluded or not a regular file or directory", path)
			}

			r := fingerprintResult{
				Path:     path,
				Hash:     root.Hash,
				Files:    tree.CountLeaves(root),
				Nodes:    tree.CountNodes(root),
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if withTree {
				r.Tree = root
			}
			return o.out.Write(r)
		},
	}
	cmd.Flags().BoolVar(&withTree, "tree", false, "Include the full hash tree (json output)")
	return cmd
}
