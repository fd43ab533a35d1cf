package config

import (
	"path/filepath"
	"runtime"

	"github.com/openfroyo/installer/pkg/telemetry"
)

// DefaultProductListURL is the product repository used when none is configured.
const DefaultProductListURL = "https://dev.untill.com/artifactory/repo"

// FileName is the settings file looked up next to the executable.
const FileName = "installer.yaml"

// Settings is the process-wide installer configuration. It is resolved once
// at startup and never modified afterwards.
type Settings struct {
	// SiteDataDir is the working folder of the engine and the installer.
	SiteDataDir string `yaml:"site_data_dir" env:"SITE_DATA_DIR" validate:"required"`

	// PortableDir is an optional folder with a portable product repository.
	PortableDir string `yaml:"portable_dir" env:"PORTABLE_DIR"`

	// ProductListURL is the repository the engine resolves products from.
	ProductListURL string `yaml:"product_list_url" env:"PRODUCT_LIST_URL" validate:"required,url"`

	// ProductName is the display name used in dialog titles.
	ProductName string `yaml:"product_name" env:"PRODUCT_NAME" validate:"required"`

	// Engine configures the external deployment engine.
	Engine EngineSettings `yaml:"engine" envPrefix:"ENGINE_"`

	// DatabasePath is the attempt history database. Defaults to <site>/installer.db.
	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH"`

	// LogsDir holds the durable run logs. Defaults to <site>/logs.
	LogsDir string `yaml:"logs_dir" env:"LOGS_DIR"`

	// ScriptDir holds generated continuation scripts. Defaults to
	// <site_data_dir>/continuations.
	ScriptDir string `yaml:"script_dir" env:"SCRIPT_DIR"`

	// MetricsTextfile is written with the attempt metrics on exit when set.
	MetricsTextfile string `yaml:"metrics_textfile" env:"METRICS_TEXTFILE"`

	// LegacyScheduler omits the highest-privilege flag for old task schedulers.
	LegacyScheduler bool `yaml:"legacy_scheduler" env:"LEGACY_SCHEDULER"`

	Log     LogSettings     `yaml:"log" envPrefix:"LOG_"`
	Tracing TracingSettings `yaml:"tracing" envPrefix:"TRACING_"`
}

// EngineSettings configures the engine process.
type EngineSettings struct {
	Command string   `yaml:"command" env:"COMMAND" validate:"required"`
	Args    []string `yaml:"args" env:"ARGS" envSeparator:" "`
}

// LogSettings configures installer logging.
type LogSettings struct {
	Level  string `yaml:"level" env:"LEVEL" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=console json"`
	// Output is stderr, stdout, or a file path.
	Output string `yaml:"output" env:"OUTPUT"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Exporter string `yaml:"exporter" env:"EXPORTER" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint" env:"ENDPOINT" validate:"required_if=Exporter otlp"`
}

// Defaults returns the settings used when nothing is configured. Paths are
// relative to exeDir, the folder of the running executable.
func Defaults(exeDir string) *Settings {
	engine := "froyo-engine"
	if runtime.GOOS == "windows" {
		engine += ".exe"
	}
	return &Settings{
		SiteDataDir:    filepath.Join(exeDir, "data"),
		ProductListURL: DefaultProductListURL,
		ProductName:    "Froyo",
		Engine: EngineSettings{
			Command: filepath.Join(exeDir, engine),
		},
		Log: LogSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingSettings{
			Exporter: "none",
		},
	}
}

// Telemetry converts the settings into a telemetry configuration.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	cfg.Logging.Output = s.Log.Output
	cfg.Tracing.Enabled = s.Tracing.Exporter != "none"
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Metrics.Enabled = s.MetricsTextfile != ""
	cfg.Metrics.TextfilePath = s.MetricsTextfile
	return cfg
}
