package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/mvistore/internal/config"
)

// ValidationError is one problem found in a config file.
type ValidationError struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (e ValidationError) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	return e.Message
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Config *config.File      `json:"config,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate a store config file",
		Long: `Validate a CUE store config against the embedded schema and the
engine's own rules (for example, parallel intents need atomic state).

Environment overrides are not applied, so the file is checked as written.

Exit codes:
  0 - Config is valid
  1 - Config is invalid
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "config file not found", err)
	}

	formatter.VerboseLog("Validating %s", path)
	file, err := config.Load(path, config.WithoutEnvironment())
	if err == nil {
		_, err = file.EngineConfig()
	}

	if err != nil {
		verr := toValidationError(err)
		result := ValidationResult{Valid: false, Errors: []ValidationError{verr}}
		if formatter.JSON() {
			if err := formatter.Failure(result, ErrCodeConfig, verr.Message); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %s\n", verr)
		}
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Config: &file})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid\n", path)
	return nil
}

func toValidationError(err error) ValidationError {
	var cerr *config.Error
	if errors.As(err, &cerr) {
		v := ValidationError{Message: cerr.Message}
		if cerr.Pos.IsValid() {
			v.File = cerr.Pos.Filename()
			v.Line = cerr.Pos.Line()
			v.Column = cerr.Pos.Column()
		}
		return v
	}
	return ValidationError{Message: err.Error()}
}
