package cli

import "github.com/crmarques/reconctl/internal/cli/commandmeta"

// RequiresContextBootstrapPath reports whether the command at commandPath
// needs the runtime of a resolved context.
func RequiresContextBootstrapPath(commandPath string) bool {
	return commandmeta.RequiresContextBootstrapPath(commandPath)
}
