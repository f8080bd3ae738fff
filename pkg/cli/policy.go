package cli

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

const (
	policiesAnnotationPrefix = "policies."
	defaultPolicyContext     = "run"
)

// CommandPolicy tells deployment tooling when a command is meant to run.
type CommandPolicy string

const (
	// PolicyAlways marks side-effect free commands such as version and config.
	PolicyAlways CommandPolicy = "always"
	// PolicyRun marks long-running processes: serve and work.
	PolicyRun CommandPolicy = "run"
	// PolicyOnDemand marks one-shot probes such as healthcheck.
	PolicyOnDemand CommandPolicy = "on_demand"
	// PolicyManual marks operator commands that mutate jobs.
	PolicyManual CommandPolicy = "manual"
)

// SetCommandPolicies stores policies on the command annotations using the "policies." prefix.
func SetCommandPolicies(cmd *cobra.Command, policies map[string]CommandPolicy) {
	if cmd == nil {
		return
	}
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	for _, key := range policyAnnotationKeys(cmd.Annotations) {
		delete(cmd.Annotations, key)
	}
	for context, policy := range policies {
		trimmed := strings.TrimSpace(context)
		if trimmed == "" {
			continue
		}
		cmd.Annotations[policiesAnnotationPrefix+trimmed] = string(policy)
	}
}

// GetCommandPolicies returns command policies from annotations.
func GetCommandPolicies(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd == nil {
		return out
	}
	for key, value := range cmd.Annotations {
		if !strings.HasPrefix(key, policiesAnnotationPrefix) {
			continue
		}
		context := strings.TrimPrefix(key, policiesAnnotationPrefix)
		if strings.TrimSpace(context) == "" {
			continue
		}
		out[context] = value
	}
	return out
}

func setPolicy(cmd *cobra.Command, policy CommandPolicy) *cobra.Command {
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: policy})
	return cmd
}

func ensureDefaultPolicy(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	if len(GetCommandPolicies(cmd)) == 0 {
		setPolicy(cmd, PolicyAlways)
	}
	for _, sub := range cmd.Commands() {
		ensureDefaultPolicy(sub)
	}
}

func policyAnnotationKeys(annotations map[string]string) []string {
	keys := make([]string, 0, len(annotations))
	for key := range annotations {
		if strings.HasPrefix(key, policiesAnnotationPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
