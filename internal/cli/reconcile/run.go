package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/crmarques/reconctl/debugctx"
	"github.com/crmarques/reconctl/internal/cli/common"
	"github.com/crmarques/reconctl/reconciler"
)

const noChangesMessage = "no changes"

type runner struct {
	deps        common.CommandDependencies
	globalFlags *common.GlobalFlags
	prompter    common.Prompter
}

// apply prints the plan of every staged kind, optionally probes additions,
// asks for confirmation once and commits the kinds in order. A kind that
// fails partially does not stop the kinds after it; cancellation does.
func (r runner) apply(command *cobra.Command, flags common.ApplyFlags, items []staged) error {
	changed := make([]staged, 0, len(items))
	for _, item := range items {
		hasChanges, err := item.HasChanges()
		if err != nil {
			return err
		}
		if hasChanges {
			changed = append(changed, item)
		}
	}
	if len(changed) == 0 {
		_, err := fmt.Fprintln(command.OutOrStdout(), noChangesMessage)
		return err
	}

	for _, item := range changed {
		if err := item.WritePlan(command.OutOrStdout()); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt)
	defer stop()

	if flags.Probe {
		for _, item := range changed {
			if err := item.Probe(ctx); err != nil {
				return err
			}
		}
	}

	confirmed, err := r.confirm(command, flags)
	if err != nil {
		return err
	}
	if !confirmed {
		_, err := fmt.Fprintln(command.ErrOrStderr(), "apply aborted")
		return err
	}

	results := make([]reconciler.Result, 0, len(changed))
	var errs []error
	for _, item := range changed {
		if ctx.Err() != nil {
			break
		}
		result, commitErr := item.Commit(ctx, r.applyOptions(ctx, command.ErrOrStderr(), item)...)
		if result.RunID == "" {
			errs = append(errs, commitErr)
			break
		}
		results = append(results, result)
		errs = append(errs, r.record(ctx, result), result.Err(), commitErr)
		if result.Status == reconciler.StatusCanceled {
			break
		}
	}

	if r.deps.Telemetry != nil {
		if err := r.deps.Telemetry.Flush(context.WithoutCancel(ctx)); err != nil {
			debugctx.Logger(ctx).Error(err, "failed to flush telemetry")
		}
	}
	if err := writeResults(command, r.globalFlags.Output, results); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r runner) confirm(command *cobra.Command, flags common.ApplyFlags) (bool, error) {
	if flags.Yes {
		return true, nil
	}
	if r.prompter == nil || !r.prompter.IsInteractive(command) {
		return false, common.ValidationError("confirmation requires an interactive terminal: rerun with --yes", nil)
	}
	return r.prompter.Confirm(command, "Apply these changes?", false)
}

func (r runner) applyOptions(ctx context.Context, stderr io.Writer, item staged) []reconciler.ApplyOption {
	opts := []reconciler.ApplyOption{
		reconciler.WithRunID(uuid.NewString()),
		reconciler.WithLogger(debugctx.Logger(ctx)),
		reconciler.WithProgress(common.NewProgressWriter(stderr, item.Kind())),
	}
	if r.deps.Telemetry != nil {
		opts = append(opts,
			reconciler.WithMetrics(r.deps.Telemetry.Metrics()),
			reconciler.WithTracer(r.deps.Telemetry.Tracer()),
		)
		if observer := r.deps.Telemetry.Observer(); observer != nil {
			opts = append(opts, reconciler.WithObserver(observer))
		}
	}
	return opts
}

func (r runner) record(ctx context.Context, result reconciler.Result) error {
	if r.deps.Journal == nil {
		return nil
	}
	if err := r.deps.Journal.Record(context.WithoutCancel(ctx), result); err != nil {
		return fmt.Errorf("record run %s: %w", result.RunID, err)
	}
	return nil
}

func writeResults(command *cobra.Command, format string, results []reconciler.Result) error {
	return common.WriteOutput(command, format, results, func(w io.Writer, value []reconciler.Result) error {
		for _, result := range value {
			if err := writeResultText(w, result); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeResultText(w io.Writer, result reconciler.Result) error {
	if _, err := fmt.Fprintf(
		w,
		"%s %s: %d of %d applied (run %s)\n",
		result.Kind, result.Status, result.Succeeded(), result.Total, result.RunID,
	); err != nil {
		return err
	}
	for _, failure := range result.Failures {
		if _, err := fmt.Fprintf(
			w,
			"  %s %s [%s]: %s\n",
			failure.Operation, failure.Identity, reconciler.FailureCategory(failure), strings.TrimSpace(failure.Message),
		); err != nil {
			return err
		}
	}
	return nil
}
