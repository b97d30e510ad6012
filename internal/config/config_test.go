package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pacer/internal/record"
)

func validConfig() Config {
	cfg := Default()
	cfg.Input = "events.jsonl"
	return cfg
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1, cfg.Speed)
	assert.Equal(t, FormatJSON, cfg.InputFormat)
	assert.Equal(t, OutputStdout, cfg.Output)
	assert.Equal(t, "timestamp", cfg.TimeField)
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	cfg, err := Load("testdata/replay.yaml")
	require.NoError(t, err)

	assert.Equal(t, "events.jsonl", cfg.Input)
	assert.Equal(t, "meta.ts", cfg.TimeField)
	assert.Equal(t, 10, cfg.Speed)
	assert.True(t, cfg.Envelope)
	assert.Equal(t, OutputStdout, cfg.Output, "default kept")
	require.NoError(t, cfg.Validate())

	start, err := cfg.StartTimeValue()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC), *start)
}

func TestLoad_CUE(t *testing.T) {
	cfg, err := Load("testdata/replay.cue")
	require.NoError(t, err)

	assert.Equal(t, FormatCSV, cfg.InputFormat)
	assert.Equal(t, []string{"id", "ts", "msg"}, cfg.CSVColumns)
	assert.Equal(t, 60, cfg.Speed)
	assert.Equal(t, OutputNone, cfg.Output)
	assert.Equal(t, "timestamp", cfg.TimeField, "default kept")
	require.NoError(t, cfg.Validate())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load("testdata/unknown.yaml")
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Message, "sped")

	path := writeConfig(t, "x.cue", `inptu: "a"`)
	_, err = Load(path)
	assert.ErrorContains(t, err, "inptu")
}

func TestLoad_CUEErrorHasPosition(t *testing.T) {
	path := writeConfig(t, "bad.cue", "speed: 1\nspeed: 2\n")
	_, err := Load(path)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, cfgErr.Pos.IsValid())
	assert.Contains(t, err.Error(), "bad.cue")
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "c.toml", "speed = 1"))
	assert.ErrorContains(t, err, "unsupported config extension")
}

func TestApplyEnv(t *testing.T) {
	cfg := validConfig()
	err := ApplyEnv(&cfg, map[string]string{
		"PACER_SPEED":       "25",
		"PACER_ENVELOPE":    "true",
		"PACER_CSV_COLUMNS": "a,b,c",
		"SPEED":             "99",
	})
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Speed)
	assert.True(t, cfg.Envelope)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.CSVColumns)
	assert.Equal(t, "events.jsonl", cfg.Input, "unset variables leave fields alone")
}

func TestApplyEnv_ProcessEnvironment(t *testing.T) {
	t.Setenv("PACER_OUTPUT", "none")
	cfg := validConfig()
	require.NoError(t, ApplyEnv(&cfg, nil))
	assert.Equal(t, OutputNone, cfg.Output)
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := validConfig()
	err := ApplyEnv(&cfg, map[string]string{"PACER_SPEED": "fast"})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "env", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"zero speed", func(c *Config) { c.Speed = 0 }, "speed"},
		{"negative speed", func(c *Config) { c.Speed = -3 }, "speed"},
		{"missing input", func(c *Config) { c.Input = "" }, "input"},
		{"bad format", func(c *Config) { c.InputFormat = "xml" }, "input_format"},
		{"bad unit", func(c *Config) { c.TimeUnit = "ns" }, "time_unit"},
		{"bad output", func(c *Config) { c.Output = "kafka" }, "output"},
		{"long delimiter", func(c *Config) { c.CSVDelimiter = ";;" }, "csv_delimiter"},
		{"bad start", func(c *Config) { c.StartTime = "yesterday" }, "start_time"},
		{"csv without column", func(c *Config) { c.InputFormat = FormatCSV }, "time_column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	cfg.InputFormat = FormatCSV
	cfg.TimeColumn = "0"
	cfg.CSVDelimiter = ";"
	cfg.Speed = 1000
	assert.NoError(t, cfg.Validate())
}

func TestDecoder(t *testing.T) {
	cfg := validConfig()
	cfg.TimeField = "ts"
	cfg.TimeUnit = record.UnitSeconds
	dec, err := cfg.Decoder()
	require.NoError(t, err)
	ev, err := dec.Decode([]byte(`{"ts":10}`))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(10, 0).UTC(), ev.Time)

	cfg.InputFormat = FormatCSV
	cfg.TimeColumn = "1"
	cfg.CSVDelimiter = ";"
	dec, err = cfg.Decoder()
	require.NoError(t, err)
	ev, err = dec.Decode([]byte(`a;20`))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(20, 0).UTC(), ev.Time)

	cfg.TimeColumn = "nope"
	_, err = cfg.Decoder()
	assert.Error(t, err)
}
