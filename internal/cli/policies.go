package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/talgya/elfarol/internal/policy"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List the policy catalog and the syntax used in initial_strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		configured, _ := cmd.Flags().GetBool("configured")

		list := policy.Catalog()
		if configured {
			list = list[:0]
			for _, spec := range cfg.Simulation.InitialStrategies {
				p, err := policy.Parse(spec)
				if err != nil {
					return err
				}
				list = append(list, p)
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSYNTAX\tNAME\tSTOCHASTIC")
		for id, p := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", id, p.String(), p.Name(), p.Kind.Stochastic())
		}
		return w.Flush()
	},
}

func init() {
	policiesCmd.Flags().Bool("configured", false, "list only the policies in the current config")
}
