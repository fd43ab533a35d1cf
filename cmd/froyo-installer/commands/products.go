package commands

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installer/pkg/outcome"
	"github.com/openfroyo/installer/pkg/progress"
)

func newProductsCommand(opts *globalOptions, streams *progress.Streams, info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "products [product]",
		Short: "List available products or the versions of one product",
		Long: `List the products offered by the product list together with the
deployed version of each. With a product argument, list its versions and
mark those already downloaded.`,
		Example: `  froyo-installer products
  froyo-installer products productX`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd.Context(), opts, streams, info)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize")
				return exitWith(outcome.ExitFailure)
			}
			defer env.close(cmd.Context())

			ctx := cmd.Context()
			stdout := cmd.OutOrStdout()
			chatter := cmd.ErrOrStderr()

			deployed, err := env.engine.MapDeployedProducts(ctx, chatter)
			if err != nil {
				env.logger.Error().Err(err).Msg("Failed to list deployed products")
				return exitWith(outcome.ExitCodeFor(err))
			}

			if len(args) == 1 {
				product := args[0]
				versions, err := env.engine.ListProductVersions(ctx, chatter, product)
				if err != nil {
					env.logger.Error().Err(err).Str("product", product).Msg("Failed to list versions")
					return exitWith(outcome.ExitCodeFor(err))
				}
				for _, v := range sortedKeys(versions) {
					var marks string
					if versions[v] {
						marks += " (downloaded)"
					}
					if deployed[product] == v {
						marks += " (deployed)"
					}
					_, _ = fmt.Fprintf(stdout, "%s%s\n", v, marks)
				}
				return nil
			}

			products, err := env.engine.ListProducts(ctx, chatter)
			if err != nil {
				env.logger.Error().Err(err).Msg("Failed to list products")
				return exitWith(outcome.ExitCodeFor(err))
			}
			sort.Strings(products)
			for _, p := range products {
				version := deployed[p]
				if version == "" {
					version = "-"
				}
				_, _ = fmt.Fprintf(stdout, "%-32s %s\n", p, version)
			}
			return nil
		},
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
