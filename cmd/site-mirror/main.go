// Package main provides the site-mirror command line tool.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site-mirror",
		Short: "Mirror websites to a local directory under follow, save and stop rules",
		Long: `site-mirror crawls from one or more seed URLs and writes a browsable copy
of the pages it is allowed to save. Three rules decide what happens to each URL:

  follow  whether the URL is fetched at all
  save    whether a fetched resource is written to the mirror
  stop    whether the links of a saved page are explored

Rules are lists of tests such as +same-domain, -depth>3 or ++extension=css,js.
Run 'site-mirror rules' for the list of predicates.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("loglevel", "info", "Log level (trace, debug, info, warn, error)")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewUpdateCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewRulesCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// newLogger builds the process logger. An invalid level is reported and
// replaced by info.
func newLogger(cmd *cobra.Command, out io.Writer) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	levelName, _ := cmd.Flags().GetString("loglevel")
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelName, err)
	} else {
		log.SetLevel(level)
	}
	return logrus.NewEntry(log)
}
