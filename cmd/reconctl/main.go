package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/core"
	"github.com/crmarques/reconctl/internal/cli"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	bootstrap := core.BootstrapConfig{ContextCatalogPath: flagValueFromArgs(args, "contexts-file", "")}
	deps := cli.Dependencies{
		Contexts: core.NewContextService(bootstrap),
	}

	if !shouldSkipContextBootstrap(args) {
		runtime, err := core.NewRuntime(ctx, bootstrap, selectionFromArgs(args))
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			return cli.ExitCodeForError(err)
		}
		defer func() {
			if err := runtime.Close(context.WithoutCancel(ctx)); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err)
			}
		}()

		deps = cli.Dependencies{
			Contexts:         runtime.Contexts,
			Server:           runtime.Server,
			Journal:          runtime.Journal,
			RepositoryProber: runtime.RepositoryProber,
			RegistryProber:   runtime.RegistryProber,
			Telemetry:        runtime.Telemetry,
		}
	}

	if err := cli.Execute(ctx, deps); err != nil {
		return cli.ExitCodeForError(err)
	}
	return 0
}

func selectionFromArgs(args []string) config.ContextSelection {
	selection := config.ContextSelection{Name: flagValueFromArgs(args, "context", "c")}
	if textfile := flagValueFromArgs(args, "metrics-textfile", ""); textfile != "" {
		selection.Overrides = map[string]string{"telemetry.metrics-textfile": textfile}
	}
	return selection
}

// flagValueFromArgs reads a string flag before cobra parses the command line,
// so the runtime can be built for the selected context.
func flagValueFromArgs(args []string, long string, short string) string {
	for idx := 0; idx < len(args); idx++ {
		current := args[idx]
		if current == "--" {
			return ""
		}

		if current == "--"+long || (short != "" && current == "-"+short) {
			if idx+1 < len(args) {
				return args[idx+1]
			}
			return ""
		}
		if strings.HasPrefix(current, "--"+long+"=") {
			return strings.TrimPrefix(current, "--"+long+"=")
		}
	}

	return ""
}

func isHelpInvocation(args []string) bool {
	if len(args) == 0 {
		return true
	}
	if args[0] == "help" {
		return true
	}

	for _, current := range args {
		if current == "--" {
			break
		}
		if current == "--help" || current == "-h" {
			return true
		}
	}

	return false
}

func shouldSkipContextBootstrap(args []string) bool {
	if isHelpInvocation(args) {
		return true
	}

	commandPath, ok := resolveRunnableCommandPath(args)
	if !ok {
		return true
	}

	return !cli.RequiresContextBootstrapPath(commandPath)
}

func resolveRunnableCommandPath(args []string) (string, bool) {
	probe := cli.NewRootCommand(cli.Dependencies{})
	command, remainingArgs, err := probe.Find(args)
	if err != nil {
		return "", false
	}
	if command == nil {
		return "", false
	}
	if !command.Runnable() {
		return "", false
	}

	if err := command.ParseFlags(remainingArgs); err != nil {
		return "", false
	}
	if err := command.ValidateArgs(command.Flags().Args()); err != nil {
		return "", false
	}

	return strings.TrimSpace(command.CommandPath()), true
}
