package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/elfarol/internal/engine"
	"github.com/talgya/elfarol/internal/render"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tGRID\tROUNDS\tMEAN\tCROWDED\tSTARTED")
		for _, r := range runs {
			rounds := humanize.Comma(int64(r.Rounds))
			if r.FinishedAt == nil {
				rounds += " (unfinished)"
			}
			fmt.Fprintf(w, "%s\t%s\t%d×%d\t%s\t%.3f\t%.0f%%\t%s\n",
				r.ID, r.Name, r.GridSize, r.GridSize, rounds,
				r.MeanRatio, 100*r.Crowded, humanize.Time(r.StartedAt))
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the final grid and summary of a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		rounds, err := st.LoadRounds(ctx, run.ID)
		if err != nil {
			return err
		}
		snap, err := st.LoadSnapshot(ctx, run.ID)
		if err != nil {
			return err
		}

		series := engine.Series{Policies: snap.Policies, Ratio: make([]float64, len(rounds))}
		for i, r := range rounds {
			series.Ratio[i] = r.Ratio()
		}
		sum := engine.Summarize(rounds, series)
		sum.Population = make([]int, len(snap.Policies))
		for _, c := range snap.Cells {
			sum.Population[c.PolicyID]++
		}

		var last *engine.RoundRecord
		if len(rounds) > 0 {
			last = &rounds[len(rounds)-1]
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  seed %d  started %s\n\n", run.ID, run.Seed, humanize.Time(run.StartedAt))
		fmt.Fprintln(out, render.Frame(snap, last))
		fmt.Fprintln(out)
		fmt.Fprintln(out, render.Summary(run.Name, sum, series))
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
}
