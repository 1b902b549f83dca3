package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	irscan "github.com/zendesk/irscan"
	"github.com/zendesk/irscan/rules"
)

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule sets",
	}

	var dir string
	list := &cobra.Command{
		Use:   "list",
		Short: "List compiled rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := loadRuleSet(dir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSEVERITY\tMATCHER\tLANGUAGES")
			for _, r := range rs.Rules {
				langs := "generic"
				if len(r.Languages) > 0 {
					langs = fmt.Sprint(r.Languages)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Severity, r.Matcher.Kind, langs)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&dir, "rules", "", "rules directory (built-in rules when empty)")

	var checkDir string
	check := &cobra.Command{
		Use:   "check",
		Short: "Compile a rules directory and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := rules.Load(checkDir)
			if err != nil {
				return err
			}
			for _, ce := range rs.Errors {
				fmt.Fprintf(os.Stderr, "error: %v\n", ce)
			}
			fmt.Printf("%d rule(s) compiled, %d error(s)\n", len(rs.Rules), len(rs.Errors))
			if len(rs.Errors) > 0 {
				return exitError(exitFatal)
			}
			return nil
		},
	}
	check.Flags().StringVar(&checkDir, "rules", "", "rules directory")
	_ = check.MarkFlagRequired("rules")

	cmd.AddCommand(list, check)
	return cmd
}

func loadRuleSet(dir string) (*rules.RuleSet, error) {
	if dir == "" {
		return irscan.BuiltinRuleSet(), nil
	}
	return rules.Load(dir)
}
