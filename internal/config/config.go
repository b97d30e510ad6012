// Package config loads and validates replay job configuration.
//
// Precedence, lowest to highest:
//
//	Default() -> config file (.yaml/.yml or .cue) -> PACER_* environment -> CLI flags
//
// Flags are applied by the CLI after Load and ApplyEnv. The merged result
// is checked by Validate against the embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/caarlos0/env/v11"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/roach88/pacer/internal/emitter"
	"github.com/roach88/pacer/internal/record"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PACER_"

// Input formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Output modes.
const (
	OutputStdout = "stdout"
	OutputNone   = "none"
)

// Config describes one replay job.
type Config struct {
	// Input is a file path, or "-" for stdin.
	Input       string `json:"input" yaml:"input" env:"INPUT"`
	InputFormat string `json:"input_format" yaml:"input_format" env:"INPUT_FORMAT"`

	// TimeField is the JSON path of the event time (JSON input).
	TimeField string `json:"time_field" yaml:"time_field" env:"TIME_FIELD"`

	// CSVColumns names CSV cells; TimeColumn selects the event time cell
	// by name or 0-based index (CSV input).
	CSVColumns   []string `json:"csv_columns,omitempty" yaml:"csv_columns" env:"CSV_COLUMNS" envSeparator:","`
	TimeColumn   string   `json:"time_column" yaml:"time_column" env:"TIME_COLUMN"`
	CSVDelimiter string   `json:"csv_delimiter" yaml:"csv_delimiter" env:"CSV_DELIMITER"`

	TimeLayout string `json:"time_layout" yaml:"time_layout" env:"TIME_LAYOUT"`
	TimeUnit   string `json:"time_unit" yaml:"time_unit" env:"TIME_UNIT"`

	// StartTime is an optional RFC 3339 baseline; earlier records are discarded.
	StartTime string `json:"start_time" yaml:"start_time" env:"START_TIME"`

	Speed int `json:"speed" yaml:"speed" env:"SPEED"`

	Output   string `json:"output" yaml:"output" env:"OUTPUT"`
	Envelope bool   `json:"envelope" yaml:"envelope" env:"ENVELOPE"`

	// Database is the SQLite emission log path; empty disables it.
	Database string `json:"database" yaml:"database" env:"DATABASE"`

	// MetricsAddr is the listen address of the /metrics endpoint; empty disables it.
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr" env:"METRICS_ADDR"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		InputFormat: FormatJSON,
		TimeField:   record.DefaultTimeField,
		Speed:       1,
		Output:      OutputStdout,
	}
}

// ConfigError is a configuration problem, with a source position when it
// came from a CUE file or schema.
type ConfigError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ConfigError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads path on top of Default(). The format follows the extension:
// .yaml/.yml or .cue. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, &ConfigError{Field: "yaml", Message: err.Error()}
		}
	case ".cue":
		if err := decodeCUE(path, data, &cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, &ConfigError{Field: "file", Message: fmt.Sprintf("unsupported config extension %q", filepath.Ext(path))}
	}
	return cfg, nil
}

// strictJSON rejects keys that are not Config fields.
var strictJSON = jsoniter.Config{DisallowUnknownFields: true}.Froze()

func decodeCUE(path string, data []byte, cfg *Config) error {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	out, err := v.MarshalJSON()
	if err != nil {
		return formatCUEError(err)
	}
	if err := strictJSON.Unmarshal(out, cfg); err != nil {
		return &ConfigError{Field: "cue", Message: err.Error()}
	}
	return nil
}

// ApplyEnv overrides cfg from PACER_* variables. A nil environ reads the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return &ConfigError{Field: "env", Message: err.Error()}
	}
	return nil
}

// Validate checks cfg against the CUE schema and cross-field rules.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}

	if _, err := c.StartTimeValue(); err != nil {
		return &ConfigError{Field: "start_time", Message: err.Error()}
	}
	if c.InputFormat == FormatCSV && c.TimeColumn == "" {
		return &ConfigError{Field: "time_column", Message: "required for csv input"}
	}
	return nil
}

// StartTimeValue parses StartTime. Returns nil when unset.
func (c Config) StartTimeValue() (*time.Time, error) {
	if c.StartTime == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, c.StartTime)
	if err != nil {
		return nil, fmt.Errorf("not an RFC 3339 time: %w", err)
	}
	return &t, nil
}

// TimeFormat returns the event time interpretation.
func (c Config) TimeFormat() record.TimeFormat {
	return record.TimeFormat{Layout: c.TimeLayout, Unit: c.TimeUnit}
}

// Decoder builds the line decoder for InputFormat.
func (c Config) Decoder() (emitter.Decoder[record.Event], error) {
	switch c.InputFormat {
	case FormatJSON, "":
		dec, err := record.NewJSONDecoder(c.TimeField, c.TimeFormat())
		if err != nil {
			return nil, &ConfigError{Field: "time_field", Message: err.Error()}
		}
		return dec, nil
	case FormatCSV:
		var comma rune
		if c.CSVDelimiter != "" {
			comma = []rune(c.CSVDelimiter)[0]
		}
		dec, err := record.NewCSVDecoder(c.CSVColumns, c.TimeColumn, comma, c.TimeFormat())
		if err != nil {
			return nil, &ConfigError{Field: "time_column", Message: err.Error()}
		}
		return dec, nil
	default:
		return nil, &ConfigError{Field: "input_format", Message: fmt.Sprintf("unknown format %q", c.InputFormat)}
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	var path []string
	for _, sel := range first.Path() {
		// Drop the #Config definition selector.
		if !strings.HasPrefix(sel, "#") {
			path = append(path, sel)
		}
	}
	field := strings.Join(path, ".")
	if field == "" {
		field = "cue"
	}
	format, args := first.Msg()
	cfgErr := &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		cfgErr.Pos = positions[0]
	}
	return cfgErr
}
