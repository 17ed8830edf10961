package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/deltaupdate/pkg/fetch"
	"github.com/fruitsalade/deltaupdate/pkg/pack"
)

type packResult struct {
	Version     string `json:"version" yaml:"version"`
	Hash        string `json:"hash" yaml:"hash"`
	Manifest    string `json:"manifest" yaml:"manifest"`
	BlobDir     string `json:"blobDir" yaml:"blobDir"`
	Blobs       int    `json:"blobs" yaml:"blobs"`
	Published   int    `json:"published,omitempty" yaml:"published,omitempty"`
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
}

func (r packResult) String() string {
	s := fmt.Sprintf("Packaged %s: %d blobs, manifest %s", r.Version, r.Blobs, r.Manifest)
	if r.Destination != "" {
		s += fmt.Sprintf("\nPublished %d objects to %s", r.Published, r.Destination)
	}
	return s
}

func newPackCmd(o *options) *cobra.Command {
	var (
		opts    pack.Options
		publish string
	)
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Build an update package from a release directory",
		Long: `Fingerprint a release directory and write a manifest plus one gzip blob
per distinct file content:

  <out>/<json-name>.json
  <out>/<target><release>/<hash>.gz

With --publish s3://bucket/prefix the package is uploaded after it is built.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd)
			if err != nil {
				return err
			}
			opts.Hasher = cfg.HasherOptions()

			var bucket, prefix string
			if publish != "" {
				if bucket, prefix, err = parsePublishURL(publish); err != nil {
					return err
				}
			}

			res, err := pack.Build(cmd.Context(), opts)
			if err != nil {
				return err
			}
			r := packResult{
				Version:  res.Manifest.Version,
				Hash:     res.Manifest.Hash.Hash,
				Manifest: res.ManifestPath,
				BlobDir:  res.BlobDir,
				Blobs:    res.Blobs,
			}

			if publish != "" {
				client, err := fetch.NewS3Client(cmd.Context(), s3Config(cfg))
				if err != nil {
					return err
				}
				n, err := pack.Publish(cmd.Context(), client, bucket, prefix, opts.Output)
				if err != nil {
					return fmt.Errorf("publish: %w", err)
				}
				r.Published = n
				r.Destination = publish
			}
			return o.out.Write(r)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Input, "input", "", "Release directory to package")
	f.StringVar(&opts.Output, "out", "", "Output directory")
	f.StringVar(&opts.Version, "release", "", "Release version (semver)")
	f.StringVar(&opts.Target, "target", "", "Blob directory prefix; the release version is appended")
	f.StringVar(&opts.JSONName, "json-name", "update", "Manifest file name without extension")
	f.IntVar(&opts.Level, "level", 0, "gzip level (0 for default)")
	f.StringVar(&publish, "publish", "", "Upload the package to s3://bucket/prefix")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("out")
	_ = cmd.MarkFlagRequired("release")
	return cmd
}

// parsePublishURL splits s3://bucket[/prefix]. Unlike object URLs the
// prefix may be empty.
func parsePublishURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("publish destination must be s3://bucket/prefix, got %s", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}
