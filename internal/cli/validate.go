package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pacer/internal/config"
)

// ValidationError describes one configuration problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Config *config.Config    `json:"config,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions

	// WithEnv applies PACER_* overrides before validating.
	WithEnv bool

	// Environ replaces the process environment (for testing).
	Environ map[string]string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a replay configuration without replaying",
		Long: `Validate a replay configuration file (.yaml, .yml or .cue).

Checks unknown keys, the configuration schema (speed >= 1, known formats
and units), the start time, and the event time settings of the decoder.

Exit codes:
  0 - Configuration valid
  1 - Configuration invalid
  2 - Command error (file not found, unsupported extension, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.WithEnv, "env", false, "apply PACER_* environment overrides before validating")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(path)
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			return outputValidationErrors(formatter, []ValidationError{toValidationError(cfgErr)})
		}
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	formatter.VerboseLog("Loaded %s", path)

	if opts.WithEnv {
		if err := config.ApplyEnv(&cfg, opts.Environ); err != nil {
			return outputValidationErrors(formatter, []ValidationError{fromError(err)})
		}
		formatter.VerboseLog("Applied %s* overrides", config.EnvPrefix)
	}

	if err := cfg.Validate(); err != nil {
		return outputValidationErrors(formatter, []ValidationError{fromError(err)})
	}
	if _, err := cfg.Decoder(); err != nil {
		return outputValidationErrors(formatter, []ValidationError{fromError(err)})
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: &cfg})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid\n", path)
	return nil
}

func fromError(err error) ValidationError {
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return toValidationError(cfgErr)
	}
	return ValidationError{Field: "config", Message: err.Error()}
}

func toValidationError(e *config.ConfigError) ValidationError {
	v := ValidationError{Field: e.Field, Message: e.Message}
	if e.Pos.IsValid() {
		v.Line = e.Pos.Line()
		v.Column = e.Pos.Column()
	}
	return v
}

// outputValidationErrors outputs validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	if formatter.Format == "json" {
		if err := formatter.Respond(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    ErrCodeConfig,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}
		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Field, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
