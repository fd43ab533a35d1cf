package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/installer/pkg/outcome"
	"github.com/openfroyo/installer/pkg/progress"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath   string
	resultFolder string
	silent       bool
	afterReboot  bool
	stacktrace   bool
	plain        bool
}

// exitCodeError carries a non-zero exit code out of a command.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func exitWith(code int) error {
	if code == outcome.ExitOK {
		return nil
	}
	return &exitCodeError{code: code}
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, streams *progress.Streams, info BuildInfo) int {
	return run(ctx, newRootCommand(streams, info))
}

func run(ctx context.Context, rootCmd *cobra.Command) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return outcome.ExitOK
	}

	var codeErr *exitCodeError
	if errors.As(err, &codeErr) {
		return codeErr.code
	}

	// Usage problems detected by cobra never reach the engine.
	_, _ = fmt.Fprintln(rootCmd.ErrOrStderr(), "error: "+err.Error())
	return outcome.ExitCodeFor(outcome.NewArgumentError(err.Error(), nil))
}

func newRootCommand(streams *progress.Streams, info BuildInfo) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "froyo-installer",
		Short: "Froyo installer - download, deploy and undeploy products",
		Long: `froyo-installer drives the deployment engine for one product version.

Features:
  - Durable per-attempt log files
  - Interactive progress dialog or silent headless mode
  - Result folder with stdout.txt, stderr.txt and exitcode.txt
  - Automatic continuation after a required reboot`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "settings file path")
	flags.StringVarP(&opts.resultFolder, "result-folder", "r", "", "folder receiving stdout.txt, stderr.txt and exitcode.txt")
	flags.BoolVarP(&opts.silent, "silent", "i", false, "run without the interactive dialog (requires --result-folder)")
	flags.BoolVarP(&opts.afterReboot, "after-reboot", "a", false, "resume a deployment after a restart")
	flags.BoolVarP(&opts.stacktrace, "stacktrace", "s", false, "print the full error chain of a failure")
	flags.BoolVar(&opts.plain, "plain", false, "exit with code 3 for any deploy result other than OK")

	rootCmd.AddCommand(newAttemptCommand(outcome.ActionDownload, opts, streams, info))
	rootCmd.AddCommand(newAttemptCommand(outcome.ActionDeploy, opts, streams, info))
	rootCmd.AddCommand(newAttemptCommand(outcome.ActionUndeploy, opts, streams, info))
	rootCmd.AddCommand(newProductsCommand(opts, streams, info))
	rootCmd.AddCommand(newHistoryCommand(opts, streams, info))
	rootCmd.AddCommand(newWaitCommand())

	return rootCmd
}
