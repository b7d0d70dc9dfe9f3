package history

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/crmarques/reconctl/internal/cli/common"
	"github.com/crmarques/reconctl/reconciler"
)

const defaultLimit = 20

func NewCommand(deps common.CommandDependencies, globalFlags *common.GlobalFlags) *cobra.Command {
	var limit int

	command := &cobra.Command{
		Use:   "history",
		Short: "Show recent apply runs recorded in the journal",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			if limit <= 0 {
				return common.ValidationError("flag --limit must be positive", nil)
			}
			store, err := common.RequireJournal(deps)
			if err != nil {
				return err
			}
			runs, err := store.Recent(command.Context(), limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []reconciler.Result{}
			}
			return common.WriteOutput(command, globalFlags.Output, runs, renderText)
		},
	}
	command.Flags().IntVar(&limit, "limit", defaultLimit, "number of runs to show")
	return command
}

func renderText(w io.Writer, runs []reconciler.Result) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	for _, run := range runs {
		if _, err := fmt.Fprintf(
			w,
			"%s  %-12s %-9s %d/%d  %s\n",
			run.StartedAt.Local().Format(time.DateTime), run.Kind, run.Status, run.Succeeded(), run.Total, run.RunID,
		); err != nil {
			return err
		}
		for _, failure := range run.Failures {
			if _, err := fmt.Fprintf(w, "    %s %s [%s]: %s\n", failure.Operation, failure.Identity, reconciler.FailureCategory(failure), failure.Message); err != nil {
				return err
			}
		}
	}
	return nil
}
