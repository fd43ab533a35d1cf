// Package engine is the boundary to the external deployment engine.
//
// The installer never interprets products or versions; it passes them to an
// Engine and routes the single outcome the engine reports. Each call receives
// the writer that the progress runner captures, so everything the engine
// prints lands in the durable log.
package engine

import (
	"context"
	"io"

	"github.com/openfroyo/installer/pkg/outcome"
)

// Engine resolves, downloads, and installs products.
type Engine interface {
	// Download fetches the artifacts of a product version without installing them.
	Download(ctx context.Context, out io.Writer, product, version string) error

	// Deploy installs a product version and reports exactly one outcome.
	Deploy(ctx context.Context, out io.Writer, product, version string) (outcome.Outcome, error)

	// Undeploy removes a product version and reports exactly one outcome.
	Undeploy(ctx context.Context, out io.Writer, product, version string) (outcome.Outcome, error)

	// ListProducts returns the products available from the product list.
	ListProducts(ctx context.Context, out io.Writer) ([]string, error)

	// ListProductVersions returns the versions of product. The value is true
	// for versions already downloaded.
	ListProductVersions(ctx context.Context, out io.Writer, product string) (map[string]bool, error)

	// MapDeployedProducts returns the deployed version of each product.
	MapDeployedProducts(ctx context.Context, out io.Writer) (map[string]string, error)
}
