package main

import (
	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/site-mirror/pkg/rules"
)

// NewRulesCmd creates the rules command
func NewRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the predicates available in rules",
		Long: `Rules are whitespace separated tests evaluated left to right; the last
matching test decides and nothing matching means deny. A test is a polarity, a predicate and an optional
comparison:

  +pred        allow if the boolean predicate holds
  -pred>=N     deny if the number compares true (=, !=, <, <=, >, >=)
  +pred=a,b*   allow if the text matches one of the glob patterns (= or !=)
  ++ / --      the same, but stop evaluating the rule when the test matches
  + / -        match unconditionally

Predicates needing the response (content-type, size, code) are checked once
the response has arrived.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows := make([][]string, 0)
			for _, p := range rules.Predicates() {
				if p == rules.PredDefault {
					continue
				}
				rows = append(rows, []string{p.String(), p.ValueType().String(), p.Phase().String(), p.Help()})
			}
			return markdown.NewMarkdown(cmd.OutOrStdout()).
				Table(markdown.TableSet{Header: []string{"Predicate", "Type", "Available", "Meaning"}, Rows: rows}).
				Build()
		},
	}
}
