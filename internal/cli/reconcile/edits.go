package reconcile

import (
	"github.com/spf13/cobra"

	"github.com/crmarques/reconctl/internal/cli/common"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/session"
)

func newRenameLinkCommand(run runner) *cobra.Command {
	var flags common.ApplyFlags
	command := &cobra.Command{
		Use:   "rename <target> <name> <new-name>",
		Short: "Rename the environment variable of a link",
		Args:  cobra.ExactArgs(3),
		RunE: func(command *cobra.Command, args []string) error {
			item, err := stage(command.Context(), linksSpec, run.deps, func(current *session.Session[resource.Link]) error {
				return session.RenameLink(current, args[0], args[1], args[2])
			})
			if err != nil {
				return err
			}
			return run.apply(command, flags, []staged{item})
		},
	}
	bindConfirmFlag(command, &flags)
	return command
}

func newPushCommand(run runner) *cobra.Command {
	var (
		flags     common.ApplyFlags
		namespace string
	)
	command := &cobra.Command{
		Use:   "push <address>",
		Short: "Designate the registry images are pushed to",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			item, err := stage(command.Context(), registriesSpec, run.deps, func(current *session.Session[resource.Registry]) error {
				return session.DesignatePush(current, args[0], namespace)
			})
			if err != nil {
				return err
			}
			return run.apply(command, flags, []staged{item})
		},
	}
	command.Flags().StringVar(&namespace, "namespace", "", "namespace images are pushed under")
	bindConfirmFlag(command, &flags)
	return command
}

func newClearPushCommand(run runner) *cobra.Command {
	var flags common.ApplyFlags
	command := &cobra.Command{
		Use:   "clear-push",
		Short: "Remove the push registry designation",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			item, err := stage(command.Context(), registriesSpec, run.deps, session.ClearPush)
			if err != nil {
				return err
			}
			return run.apply(command, flags, []staged{item})
		},
	}
	bindConfirmFlag(command, &flags)
	return command
}

func newSetEnabledCommand(run runner, enabled bool) *cobra.Command {
	var flags common.ApplyFlags
	use, short := "enable <url>", "Enable a repository"
	if !enabled {
		use, short = "disable <url>", "Disable a repository"
	}
	command := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			item, err := stage(command.Context(), repositoriesSpec, run.deps, func(current *session.Session[resource.Repository]) error {
				return session.SetEnabled(current, args[0], enabled)
			})
			if err != nil {
				return err
			}
			return run.apply(command, flags, []staged{item})
		},
	}
	bindConfirmFlag(command, &flags)
	return command
}

func bindConfirmFlag(command *cobra.Command, flags *common.ApplyFlags) {
	command.Flags().BoolVarP(&flags.Yes, "yes", "y", false, "apply without confirmation")
}
