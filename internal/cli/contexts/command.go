package contexts

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	configdomain "github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/internal/cli/common"
)

type contextSelector interface {
	Select(command *cobra.Command, prompt string, options []string) (string, error)
}

type terminalSelector struct{}

func (terminalSelector) Select(command *cobra.Command, prompt string, options []string) (string, error) {
	return common.PromptSelect(command, prompt, options)
}

func NewCommand(deps common.CommandDependencies, globalFlags *common.GlobalFlags) *cobra.Command {
	return newCommandWithSelector(deps, globalFlags, terminalSelector{})
}

func newCommandWithSelector(deps common.CommandDependencies, globalFlags *common.GlobalFlags, selector contextSelector) *cobra.Command {
	command := &cobra.Command{
		Use:   "context",
		Short: "Manage contexts",
		Args:  cobra.NoArgs,
	}
	command.AddCommand(
		newListCommand(deps, globalFlags),
		newCurrentCommand(deps, globalFlags),
		newUseCommand(deps, selector),
	)
	return command
}

func newListCommand(deps common.CommandDependencies, globalFlags *common.GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contexts",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			contexts, err := common.RequireContexts(deps)
			if err != nil {
				return err
			}
			items, err := contexts.List(command.Context())
			if err != nil {
				return err
			}
			current := ""
			if currentCtx, err := contexts.GetCurrent(command.Context()); err == nil {
				current = currentCtx.Name
			}
			names := make([]string, 0, len(items))
			for _, item := range items {
				names = append(names, item.Name)
			}
			return common.WriteOutput(command, globalFlags.Output, names, func(w io.Writer, value []string) error {
				for _, name := range value {
					marker := " "
					if name == current {
						marker = "*"
					}
					if _, writeErr := fmt.Fprintf(w, "%s %s\n", marker, name); writeErr != nil {
						return writeErr
					}
				}
				return nil
			})
		},
	}
}

func newCurrentCommand(deps common.CommandDependencies, globalFlags *common.GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the current context",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			contexts, err := common.RequireContexts(deps)
			if err != nil {
				return err
			}
			current, err := contexts.GetCurrent(command.Context())
			if err != nil {
				return err
			}
			format := globalFlags.Output
			if format == common.OutputAuto {
				format = common.OutputYAML
			}
			return common.WriteOutput(command, format, current, func(w io.Writer, value configdomain.Context) error {
				_, writeErr := fmt.Fprintln(w, value.Name)
				return writeErr
			})
		},
	}
}

func newUseCommand(deps common.CommandDependencies, selector contextSelector) *cobra.Command {
	return &cobra.Command{
		Use:   "use [name]",
		Short: "Set current context (interactive when name is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			contexts, err := common.RequireContexts(deps)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				return contexts.SetCurrent(command.Context(), args[0])
			}

			items, err := contexts.List(command.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(items))
			for _, item := range items {
				names = append(names, item.Name)
			}
			slices.Sort(names)
			name, err := selector.Select(command, "Select context", names)
			if err != nil {
				return err
			}
			return contexts.SetCurrent(command.Context(), name)
		},
	}
}
