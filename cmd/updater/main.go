// Command updater checks for, downloads and installs delta updates.
package main

import (
	"os"

	"github.com/fruitsalade/deltaupdate/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		os.Exit(1)
	}
}
