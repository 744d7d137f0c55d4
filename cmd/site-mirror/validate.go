package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/rules"
)

// NewValidateCmd creates the validate command
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without crawling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			return doValidate(path, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringP("config", "c", "config.yaml", "YAML config file")
	return cmd
}

// doValidate loads and validates the config at path, printing warnings and
// the effective rules to w
func doValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	warnings, err := cfg.Validate()
	for _, warn := range warnings {
		fmt.Fprintf(w, "WARN: %s\n", warn)
	}
	if err != nil {
		return err
	}

	rs, err := cfg.RuleSet()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Seeds: %s\n", strings.Join(cfg.Seeds, " "))
	for _, kind := range []rules.RuleKind{rules.Follow, rules.Save, rules.Stop} {
		rule := rs.Rule(kind)
		text := rule.String()
		if rule.IsEmpty() {
			text = "(default)"
		}
		fmt.Fprintf(w, "%-6s %s\n", kind.String()+":", text)
	}
	if rs.Follow.NeedsResponse() {
		fmt.Fprintln(w, "Note: follow tests on the response are checked again once it has arrived")
	}
	fmt.Fprintf(w, "Output: %s\nState: %s\n", cfg.OutputDir, cfg.StateDir)
	fmt.Fprintln(w, "Configuration valid")
	return nil
}
