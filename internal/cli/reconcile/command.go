package reconcile

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/crmarques/reconctl/internal/cli/common"
)

func NewLinksCommand(deps common.CommandDependencies, globalFlags *common.GlobalFlags, prompter common.Prompter) *cobra.Command {
	run := runner{deps: deps, globalFlags: globalFlags, prompter: prompter}
	command := newKindCommand(linksSpec, run)
	command.AddCommand(newRenameLinkCommand(run))
	return command
}

func NewRegistriesCommand(deps common.CommandDependencies, globalFlags *common.GlobalFlags, prompter common.Prompter) *cobra.Command {
	run := runner{deps: deps, globalFlags: globalFlags, prompter: prompter}
	command := newKindCommand(registriesSpec, run)
	command.AddCommand(newPushCommand(run), newClearPushCommand(run))
	return command
}

func NewRepositoriesCommand(deps common.CommandDependencies, globalFlags *common.GlobalFlags, prompter common.Prompter) *cobra.Command {
	run := runner{deps: deps, globalFlags: globalFlags, prompter: prompter}
	command := newKindCommand(repositoriesSpec, run)
	command.AddCommand(newSetEnabledCommand(run, true), newSetEnabledCommand(run, false))
	return command
}

func newKindCommand[R any](spec kindSpec[R], run runner) *cobra.Command {
	command := &cobra.Command{
		Use:   string(spec.name),
		Short: spec.short,
		Args:  cobra.NoArgs,
	}
	command.AddCommand(
		newListCommand(spec, run),
		newPlanCommand(spec, run),
		newApplyCommand(spec, run),
	)
	return command
}

func newListCommand[R any](spec kindSpec[R], run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the records currently on the server",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			srv, err := common.RequireServer(run.deps)
			if err != nil {
				return err
			}
			records, err := spec.fetch(srv)(command.Context())
			if err != nil {
				return err
			}
			if records == nil {
				records = []R{}
			}
			return common.WriteOutput(command, run.globalFlags.Output, records, spec.renderTable)
		},
	}
}

func newPlanCommand[R any](spec kindSpec[R], run runner) *cobra.Command {
	var flags common.ApplyFlags
	command := &cobra.Command{
		Use:   "plan",
		Short: "Show the remote calls needed to reach a desired state",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			document, err := common.ReadDesiredState(command, flags.File)
			if err != nil {
				return err
			}
			item, err := stageDocument(command.Context(), spec, run.deps, document)
			if err != nil {
				return err
			}
			return writePlans(command.OutOrStdout(), []staged{item})
		},
	}
	common.BindFileFlag(command, &flags)
	return command
}

func newApplyCommand[R any](spec kindSpec[R], run runner) *cobra.Command {
	var flags common.ApplyFlags
	command := &cobra.Command{
		Use:   "apply",
		Short: "Apply a desired state to the server",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			document, err := common.ReadDesiredState(command, flags.File)
			if err != nil {
				return err
			}
			item, err := stageDocument(command.Context(), spec, run.deps, document)
			if err != nil {
				return err
			}
			return run.apply(command, flags, []staged{item})
		},
	}
	common.BindApplyFlags(command, &flags)
	return command
}

func writePlans(w io.Writer, items []staged) error {
	changed := false
	for _, item := range items {
		hasChanges, err := item.HasChanges()
		if err != nil {
			return err
		}
		if !hasChanges {
			continue
		}
		changed = true
		if err := item.WritePlan(w); err != nil {
			return err
		}
	}
	if !changed {
		_, err := io.WriteString(w, noChangesMessage+"\n")
		return err
	}
	return nil
}
