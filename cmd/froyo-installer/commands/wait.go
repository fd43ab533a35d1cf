package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installer/pkg/exitchannel"
	"github.com/openfroyo/installer/pkg/outcome"
)

func newWaitCommand() *cobra.Command {
	var (
		timeout     time.Duration
		printResult bool
	)

	cmd := &cobra.Command{
		Use:   "wait <result-folder>",
		Short: "Wait for a headless run and exit with its code",
		Long: `Block until exitcode.txt appears in the result folder of a silent run,
then exit with the recorded code. Useful for callers that cannot observe the
installer process, for example across a host restart.`,
		Example: `  froyo-installer wait /tmp/result
  froyo-installer wait /tmp/result --timeout 30m --print`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			folder := args[0]
			code, err := exitchannel.Wait(ctx, folder, log.Logger)
			if err != nil {
				log.Error().Err(err).Str("folder", folder).Msg("Failed to wait for result")
				return exitWith(outcome.ExitFailure)
			}

			if printResult {
				rec, err := exitchannel.Read(folder)
				if err != nil {
					log.Warn().Err(err).Msg("Failed to read result")
				} else {
					_, _ = fmt.Fprint(cmd.OutOrStdout(), rec.Stdout)
					_, _ = fmt.Fprint(cmd.ErrOrStderr(), rec.Stderr)
				}
			}
			return exitWith(code)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this duration (0 waits forever)")
	cmd.Flags().BoolVar(&printResult, "print", false, "print stdout.txt and stderr.txt of the run")

	return cmd
}
