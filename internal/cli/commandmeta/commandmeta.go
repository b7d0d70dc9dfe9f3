package commandmeta

import (
	"strings"
)

type OutputPolicy uint8

const (
	OutputPolicyStructured OutputPolicy = iota
	OutputPolicyTextOnly
	OutputPolicyYAMLDefaultTextOrYAML
)

var kindGroups = []string{"links", "registries", "repositories"}

// RequiresContextBootstrapPath reports whether a command talks to the remote
// server or journal of the selected context.
func RequiresContextBootstrapPath(commandPath string) bool {
	normalized := strings.TrimSpace(commandPath)
	switch normalized {
	case "reconctl apply", "reconctl status", "reconctl history":
		return true
	}
	for _, group := range kindGroups {
		if strings.HasPrefix(normalized, "reconctl "+group+" ") {
			return true
		}
	}
	return false
}

func EmitsExecutionStatusPath(path string) bool {
	normalized := strings.TrimSpace(path)
	if normalized == "reconctl apply" || normalized == "reconctl context use" {
		return true
	}
	for _, group := range kindGroups {
		if normalized == "reconctl "+group+" apply" {
			return true
		}
	}
	return false
}

func OutputPolicyForPath(path string) OutputPolicy {
	normalized := strings.TrimSpace(path)
	if normalized == "reconctl context current" {
		return OutputPolicyYAMLDefaultTextOrYAML
	}
	for _, group := range kindGroups {
		if normalized == "reconctl "+group+" plan" {
			return OutputPolicyTextOnly
		}
	}
	return OutputPolicyStructured
}
