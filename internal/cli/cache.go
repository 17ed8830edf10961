package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/deltaupdate/pkg/blobcache"
)

type cacheEntry struct {
	Hash    string    `json:"hash" yaml:"hash"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"modTime" yaml:"modTime"`
}

type cacheResult struct {
	Dir     string       `json:"dir" yaml:"dir"`
	Blobs   int          `json:"blobs" yaml:"blobs"`
	Bytes   int64        `json:"bytes" yaml:"bytes"`
	Entries []cacheEntry `json:"entries" yaml:"entries"`
}

func (r cacheResult) String() string {
	var b strings.Builder
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%s  %10d  %s\n", e.Hash, e.Size, e.ModTime.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "%d blobs, %d bytes in %s", r.Blobs, r.Bytes, r.Dir)
	return b.String()
}

type cleanResult struct {
	TempFiles int `json:"tempFiles" yaml:"tempFiles"`
	Blobs     int `json:"blobs" yaml:"blobs"`
}

func (r cleanResult) String() string {
	return fmt.Sprintf("Removed %d temp files and %d blobs", r.TempFiles, r.Blobs)
}

func newCacheCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "List verified blobs in the temp directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := o.openCache(cmd)
			if err != nil {
				return err
			}
			entries, err := cache.List()
			if err != nil {
				return err
			}
			count, size, err := cache.Stats()
			if err != nil {
				return err
			}

			r := cacheResult{Dir: cache.Dir(), Blobs: count, Bytes: size, Entries: []cacheEntry{}}
			for _, e := range entries {
				r.Entries = append(r.Entries, cacheEntry(e))
			}
			return o.out.Write(r)
		},
	}
	cmd.AddCommand(newCacheCleanCmd(o))
	return cmd
}

func newCacheCleanCmd(o *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove interrupted downloads, or every blob with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := o.openCache(cmd)
			if err != nil {
				return err
			}
			var r cleanResult
			if r.TempFiles, err = cache.CleanTemp(); err != nil {
				return err
			}
			if all {
				entries, err := cache.List()
				if err != nil {
					return err
				}
				for _, e := range entries {
					if err := cache.Remove(e.Hash); err != nil {
						return err
					}
					r.Blobs++
				}
			}
			return o.out.Write(r)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also remove verified blobs")
	return cmd
}

func (o *options) openCache(cmd *cobra.Command) (*blobcache.Cache, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return blobcache.New(cfg.TempDir)
}
