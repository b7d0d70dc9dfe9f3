package status

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/crmarques/reconctl/internal/cli/common"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/session"
)

type kindCount struct {
	Kind  resource.Kind `json:"kind" yaml:"kind"`
	Count int           `json:"count" yaml:"count"`
}

type report struct {
	Context string      `json:"context,omitempty" yaml:"context,omitempty"`
	Kinds   []kindCount `json:"kinds" yaml:"kinds"`
	Push    string      `json:"push_registry,omitempty" yaml:"push_registry,omitempty"`
}

func NewCommand(deps common.CommandDependencies, globalFlags *common.GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Count the records of every kind on the server",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			srv, err := common.RequireServer(deps)
			if err != nil {
				return err
			}
			snapshots, err := session.LoadAll(command.Context(), srv)
			if err != nil {
				return err
			}

			value := report{Context: common.ContextName(command.Context())}
			for _, kind := range resource.Kinds() {
				value.Kinds = append(value.Kinds, kindCount{Kind: kind, Count: snapshots.Count(kind)})
			}
			for _, registry := range snapshots.Registries {
				if registry.Push {
					value.Push = registry.Address
				}
			}

			return common.WriteOutput(command, globalFlags.Output, value, renderText)
		},
	}
}

func renderText(w io.Writer, value report) error {
	for _, item := range value.Kinds {
		if _, err := fmt.Fprintf(w, "%-13s %d\n", item.Kind, item.Count); err != nil {
			return err
		}
	}
	if value.Push != "" {
		if _, err := fmt.Fprintf(w, "push registry %s\n", value.Push); err != nil {
			return err
		}
	}
	return nil
}
