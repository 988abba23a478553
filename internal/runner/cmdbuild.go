// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

// Command and environment composition, grounded on the source runner's
// pythonenv.go (VirtualEnv env var overlay idiom) and cmd.go (CmdRun's
// "/bin/bash -c <script>" wrapping).

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// EnvironmentSetup is the per-experiment environment composition request
// of spec §4.3.1: an optional setup script (a path to source, or literal
// shell text), an optional conda environment to activate, and a map of
// explicit environment variable overrides.
type EnvironmentSetup struct {
	SetupScript string
	UseConda    bool
	CondaEnv    string
	EnvVars     map[string]string
}

// prefixSteps returns the ordered shell statements that must run before
// the training command itself, per spec §4.3.1.
func (e EnvironmentSetup) prefixSteps() (steps []string) {
	if len(e.SetupScript) != 0 {
		if info, errGo := os.Stat(e.SetupScript); errGo == nil && !info.IsDir() {
			steps = append(steps, fmt.Sprintf("source %s", e.SetupScript))
		} else {
			steps = append(steps, e.SetupScript)
		}
	}
	if e.UseConda && len(e.CondaEnv) != 0 {
		steps = append(steps, fmt.Sprintf("conda activate %s", e.CondaEnv))
	}
	return steps
}

// composeShellCommand assembles the final "/bin/bash -c" script for a
// training command, prefixing any environment setup steps ahead of it
// (spec §4.3.1 "launch composition").
func composeShellCommand(command string, env EnvironmentSetup) string {
	steps := env.prefixSteps()
	if len(steps) == 0 {
		return command
	}
	return strings.Join(append(steps, command), " && ")
}

// argFlagPattern matches an existing occurrence of --key or --key=value in
// a composed command line, so extra_args can replace rather than duplicate
// a flag the base command already sets.
func argFlagPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`--` + regexp.QuoteMeta(key) + `(=\S+|\s+\S+)?`)
}

// composeEffectiveCommand applies extra_args over a base training command
// per spec §4.3.1: replace the value of a flag already present, append a
// new --key=value when absent, and treat bool values as presence flags
// (true appends --key if missing, false omits the flag entirely).
func composeEffectiveCommand(command string, extraArgs map[string]interface{}) string {
	if len(extraArgs) == 0 {
		return command
	}

	keys := make([]string, 0, len(extraArgs))
	for k := range extraArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := extraArgs[key]
		pattern := argFlagPattern(key)

		switch v := value.(type) {
		case bool:
			if pattern.MatchString(command) {
				if !v {
					command = pattern.ReplaceAllString(command, "")
				}
				continue
			}
			if v {
				command = command + " --" + key
			}
		default:
			rendered := fmt.Sprintf("--%s=%v", key, v)
			if pattern.MatchString(command) {
				command = pattern.ReplaceAllString(command, "--"+key+"="+fmt.Sprintf("%v", v))
			} else {
				command = command + " " + rendered
			}
		}
	}
	return strings.TrimSpace(command)
}

// composeEnviron builds the child process's environment: the supervisor's
// own environment, CUDA_VISIBLE_DEVICES from the GPU assignment (omitted
// entirely when the assignment is empty), and any explicit overrides from
// the experiment's environment setup (spec §4.3.1, §4.4 edge case "GPU
// assignment disabled").
func composeEnviron(gpu string, hasGPU bool, env EnvironmentSetup) []string {
	base := os.Environ()
	overlay := map[string]string{}
	for k, v := range env.EnvVars {
		overlay[k] = v
	}
	if hasGPU {
		overlay["CUDA_VISIBLE_DEVICES"] = gpu
	}

	result := make([]string, 0, len(base)+len(overlay))
	seen := map[string]bool{}
	for _, kv := range base {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			result = append(result, kv)
			continue
		}
		if v, overridden := overlay[parts[0]]; overridden {
			result = append(result, parts[0]+"="+v)
			seen[parts[0]] = true
			continue
		}
		result = append(result, kv)
	}
	for k, v := range overlay {
		if !seen[k] {
			result = append(result, k+"="+v)
		}
	}
	return result
}
