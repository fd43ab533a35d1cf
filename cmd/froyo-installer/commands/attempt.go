package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installer/pkg/exitchannel"
	"github.com/openfroyo/installer/pkg/installer"
	"github.com/openfroyo/installer/pkg/outcome"
	"github.com/openfroyo/installer/pkg/progress"
)

var attemptHelp = map[outcome.Action]struct {
	short   string
	long    string
	example string
}{
	outcome.ActionDownload: {
		short: "Download a product version without installing it",
		long: `Download the artifacts of a product version into the working folder.

The engine output is written to a log file in the logs folder.`,
		example: `  # Download with the progress dialog
  froyo-installer download productX 2.1.0

  # Download headless
  froyo-installer download productX 2.1.0 --silent --result-folder /tmp/result`,
	},
	outcome.ActionDeploy: {
		short: "Deploy a product version",
		long: `Deploy a product version.

This command:
  - Runs the engine and captures its output in a log file
  - Routes the engine result to an exit code
  - Registers a one-shot continuation and restarts the host when the
    engine needs a reboot`,
		example: `  # Deploy interactively
  froyo-installer deploy productX 2.1.0

  # Deploy from another program and wait for the result
  froyo-installer deploy productX 2.1.0 -i -r /tmp/result
  froyo-installer wait /tmp/result`,
	},
	outcome.ActionUndeploy: {
		short: "Undeploy a product version",
		long: `Undeploy a product version. Results are reported like deploy results,
including continuation after a required reboot.`,
		example: `  froyo-installer undeploy productX 2.1.0`,
	},
}

func newAttemptCommand(action outcome.Action, opts *globalOptions, streams *progress.Streams, info BuildInfo) *cobra.Command {
	help := attemptHelp[action]

	return &cobra.Command{
		Use:     string(action) + " <product> <version>",
		Short:   help.short,
		Long:    help.long,
		Example: help.example,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := installer.Request{
				Action:       action,
				Product:      args[0],
				Version:      args[1],
				ResultFolder: opts.resultFolder,
				Silent:       opts.silent,
				AfterReboot:  opts.afterReboot,
				Stacktrace:   opts.stacktrace,
				Plain:        opts.plain,
				ConfigPath:   opts.configPath,
			}

			// abort ends the invocation before the attempt runs. A supervisor
			// waiting on the result folder still gets an exit code.
			abort := func(code int, err error) error {
				if opts.resultFolder != "" {
					if rerr := exitchannel.Report(opts.resultFolder, code, "error: "+err.Error(), log.Logger); rerr != nil {
						log.Warn().Err(rerr).Str("folder", opts.resultFolder).Msg("Failed to publish exit code")
					}
				}
				return exitWith(code)
			}

			// Reject bad flag combinations before any settings are loaded.
			if err := req.Validate(); err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "error: "+err.Error())
				return abort(outcome.ExitCodeFor(err), err)
			}

			env, err := newEnvironment(cmd.Context(), opts, streams, info)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize")
				return abort(outcome.ExitFailure, err)
			}
			defer env.close(cmd.Context())

			scheduler, err := env.scheduler()
			if err != nil {
				env.logger.Error().Err(err).Msg("Failed to initialize continuation scheduler")
				return abort(outcome.ExitFailure, err)
			}

			exe, err := os.Executable()
			if err != nil {
				env.logger.Error().Err(err).Msg("Failed to locate executable")
				return abort(outcome.ExitFailure, err)
			}

			var presenter installer.Presenter
			if !opts.silent {
				presenter = installer.TerminalPresenter{}
			}

			inst, err := installer.New(installer.Config{
				Engine:      env.engine,
				Runner:      env.runner(),
				Scheduler:   scheduler,
				Store:       env.store,
				Metrics:     env.telemetry.Metrics,
				Presenter:   presenter,
				Executable:  exe,
				ProductName: env.settings.ProductName,
				Stdout:      cmd.OutOrStdout(),
				Stderr:      cmd.ErrOrStderr(),
				Logger:      env.telemetry.Logger,
				Tracer:      env.telemetry.Tracer,
			})
			if err != nil {
				env.logger.Error().Err(err).Msg("Failed to initialize installer")
				return abort(outcome.ExitFailure, err)
			}

			return exitWith(inst.Execute(cmd.Context(), req))
		},
	}
}
