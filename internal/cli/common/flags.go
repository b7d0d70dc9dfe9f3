package common

import "github.com/spf13/cobra"

type GlobalFlags struct {
	Context         string
	ContextsFile    string
	MetricsTextfile string
	Debug           bool
	NoStatus        bool
	NoColor         bool
	Output          string
}

// ApplyFlags are shared by every command that reads a desired-state file.
type ApplyFlags struct {
	File  string
	Yes   bool
	Probe bool
}

func BindGlobalFlags(command *cobra.Command, flags *GlobalFlags) {
	command.PersistentFlags().StringVarP(&flags.Context, "context", "c", "", "context name")
	command.PersistentFlags().StringVar(&flags.ContextsFile, "contexts-file", "", "context catalog path (default ~/.reconctl/contexts.yaml)")
	command.PersistentFlags().StringVar(&flags.MetricsTextfile, "metrics-textfile", "", "write prometheus metrics to this file after apply")
	command.PersistentFlags().BoolVarP(&flags.Debug, "debug", "d", false, "enable debug output")
	command.PersistentFlags().BoolVarP(&flags.NoStatus, "no-status", "n", false, "hide status output")
	command.PersistentFlags().BoolVar(&flags.NoColor, "no-color", false, "disable color output")
	command.PersistentFlags().StringVarP(&flags.Output, "output", "o", OutputAuto, "output format: auto|text|json|yaml")
}

func BindFileFlag(command *cobra.Command, flags *ApplyFlags) {
	command.Flags().StringVarP(&flags.File, "file", "f", "", "desired state file (use '-' to read from stdin)")
}

func BindApplyFlags(command *cobra.Command, flags *ApplyFlags) {
	BindFileFlag(command, flags)
	command.Flags().BoolVarP(&flags.Yes, "yes", "y", false, "apply without confirmation")
	command.Flags().BoolVar(&flags.Probe, "probe", false, "check that new repositories and registries are reachable before applying")
}
