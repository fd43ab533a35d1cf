package continuation

import (
	"strings"
)

// Flag names understood by the deploy command. The continuation command line
// is built from them, so they must match the CLI.
const (
	FlagAfterReboot  = "--after-reboot"
	FlagSilent       = "--silent"
	FlagResultFolder = "--result-folder"
	FlagPlain        = "--plain"
	FlagStacktrace   = "--stacktrace"
	FlagConfig       = "--config"
)

// Invocation describes the call to repeat after the restart.
type Invocation struct {
	// Executable is the absolute path of the installer binary.
	Executable string

	// Action is the subcommand to repeat. Defaults to "deploy".
	Action string

	Product string
	Version string

	// ResultFolder is the headless result folder of the original call, if any.
	ResultFolder string

	// Plain and Stacktrace repeat the reporting flags of the original call,
	// so the resumed run uses the same exit code scheme.
	Plain      bool
	Stacktrace bool

	// ConfigPath is passed through so the resumed run sees the same settings.
	ConfigPath string
}

// Args returns the argument vector of the continuation, without the executable.
func (inv Invocation) Args() []string {
	action := inv.Action
	if action == "" {
		action = "deploy"
	}
	args := []string{action, inv.Product, inv.Version, FlagAfterReboot}
	if inv.ResultFolder != "" {
		args = append(args, FlagSilent, FlagResultFolder, inv.ResultFolder)
	}
	if inv.Plain {
		args = append(args, FlagPlain)
	}
	if inv.Stacktrace {
		args = append(args, FlagStacktrace)
	}
	if inv.ConfigPath != "" {
		args = append(args, FlagConfig, inv.ConfigPath)
	}
	return args
}

// CommandLine renders the full continuation command quoted for the target OS.
func (inv Invocation) CommandLine(goos string) string {
	parts := make([]string, 0, 8)
	parts = append(parts, quoteArg(goos, inv.Executable))
	for _, a := range inv.Args() {
		parts = append(parts, quoteArg(goos, a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(goos, s string) string {
	if goos == "windows" {
		if s == "" || strings.ContainsAny(s, " \t&()^|<>") {
			return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
		}
		return s
	}
	if s == "" || strings.ContainsAny(s, " \t\n'\"\\$`!&;|<>()*?[]#~") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}
