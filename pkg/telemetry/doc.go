// Package telemetry provides logging, tracing, and metrics for the installer.
//
// Logging uses zerolog with component child loggers. Tracing uses
// OpenTelemetry with stdout or OTLP exporters. Metrics use a private
// Prometheus registry; because the installer exits after every attempt, the
// registry is written to a node-exporter textfile on Shutdown instead of being
// scraped.
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("installer").WithAttemptID(id)
//	ctx, span := tel.Tracer.StartAttemptSpan(ctx, id, "deploy", product, version)
//	defer span.End()
package telemetry
