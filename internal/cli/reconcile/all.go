package reconcile

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/crmarques/reconctl/internal/cli/common"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/session"
)

// NewApplyCommand applies every kind a desired-state file declares.
func NewApplyCommand(deps common.CommandDependencies, globalFlags *common.GlobalFlags, prompter common.Prompter) *cobra.Command {
	run := runner{deps: deps, globalFlags: globalFlags, prompter: prompter}
	var flags common.ApplyFlags

	command := &cobra.Command{
		Use:   "apply",
		Short: "Apply every kind of a desired state file (registries, repositories, links)",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			document, err := common.ReadDesiredState(command, flags.File)
			if err != nil {
				return err
			}
			items, err := stageAll(command.Context(), deps, document)
			if err != nil {
				return err
			}
			return run.apply(command, flags, items)
		},
	}
	common.BindApplyFlags(command, &flags)
	return command
}

// NewPlanCommand prints the plan of every kind a desired-state file declares.
func NewPlanCommand(deps common.CommandDependencies) *cobra.Command {
	var flags common.ApplyFlags

	command := &cobra.Command{
		Use:   "plan",
		Short: "Show the remote calls needed to reach a desired state file",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			document, err := common.ReadDesiredState(command, flags.File)
			if err != nil {
				return err
			}
			items, err := stageAll(command.Context(), deps, document)
			if err != nil {
				return err
			}
			return writePlans(command.OutOrStdout(), items)
		},
	}
	common.BindFileFlag(command, &flags)
	return command
}

func stageAll(ctx context.Context, deps common.CommandDependencies, document session.Document) ([]staged, error) {
	declared := document.Kinds()
	if len(declared) == 0 {
		return nil, common.ValidationError("desired state declares no links, registries or repositories", nil)
	}

	items := make([]staged, 0, len(declared))
	for _, kind := range declared {
		var (
			item staged
			err  error
		)
		switch kind {
		case resource.KindRegistries:
			item, err = stageDocument(ctx, registriesSpec, deps, document)
		case resource.KindRepositories:
			item, err = stageDocument(ctx, repositoriesSpec, deps, document)
		case resource.KindLinks:
			item, err = stageDocument(ctx, linksSpec, deps, document)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
