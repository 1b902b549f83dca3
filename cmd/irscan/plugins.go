package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zendesk/irscan/plugin"
)

func newPluginsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect installed plugins",
	}

	var dir string
	list := &cobra.Command{
		Use:   "list",
		Short: "List plugins found in a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifests, errs := plugin.Discover(dir)
			for _, err := range errs {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tCAPABILITIES\tREADS_FS")
			for _, m := range manifests {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\n",
					m.Name, m.Version, strings.Join(m.Capabilities, ","), m.ReadsFS)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&dir, "plugin", "", "plugin directory")
	_ = list.MarkFlagRequired("plugin")

	cmd.AddCommand(list)
	return cmd
}
