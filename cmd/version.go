package cmd

import (
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var VersionCmd = &cobra.Command{
	Use:     "version",
	Aliases: []string{"v"},
	Short:   "Print the version number of tgindex",
	Run: func(cmd *cobra.Command, args []string) {
		log.Infof("tgindex version: %s %s/%s\nBuildTime: %s, Commit: %s\n",
			Version, runtime.GOOS, runtime.GOARCH, BuildTime, GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(VersionCmd)
}
