package cmd

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Version returns a `version` command, printing the commit the binary was built from.
func Version(name string) *cobra.Command {
	name = strings.TrimSpace(name)

	short := "Print version"
	if name != "" {
		short = "Print " + name + " version"
	}

	return &cobra.Command{
		Use:                   "version",
		Short:                 short,
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, _ []string) {
			prefix := "version: "
			if name != "" {
				prefix = name + " " + prefix
			}

			fmt.Fprintln(cmd.OutOrStdout(), prefix+readBuildInfo().String())
		},
	}
}

type buildInfo struct {
	revision  string
	time      string
	modified  bool
	goVersion string
}

// String returns the revision and its commit time. A binary built from
// uncommitted code, or without vcs information, shows up as @latest built now.
func (b buildInfo) String() string {
	revision, ts := b.revision, b.time
	if b.modified || revision == "" {
		revision, ts = "@latest", time.Now().UTC().Format(time.RFC3339)
	}

	s := revision + " from " + ts
	if b.goVersion != "" {
		s += " (" + b.goVersion + ")"
	}

	return s
}

// readBuildInfo reads the vcs information `go build` stamps into the binary.
// `go run` and `go test` do not contain that info.
func readBuildInfo() buildInfo {
	b := buildInfo{}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}

	b.goVersion = info.GoVersion

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			b.revision = setting.Value
		case "vcs.time":
			b.time = setting.Value
		case "vcs.modified":
			b.modified = setting.Value == "true"
		}
	}

	return b
}
