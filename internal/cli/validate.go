package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/uql/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Models []string                   `json:"models,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <models-dir>",
		Short: "Validate CUE model definitions",
		Long: `Load the CUE model definitions in a directory and report every
problem found: unknown field types, keys and indexes naming undeclared
fields, duplicate collections, unknown or nested parents and extension
cycles.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, modelsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result, loadErrs := LoadModels(modelsDir, LoadModeCollectAll)
	if result == nil {
		return failLoad(formatter, loadErrs)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, modelsDir)

	var verrs []compiler.ValidationError
	for _, err := range loadErrs {
		verrs = append(verrs, toValidationError(err))
	}
	if len(verrs) > 0 {
		return outputValidationErrors(formatter, verrs)
	}

	names := result.Registry.Names()
	for _, n := range names {
		formatter.VerboseLog("Validated model: %s", n)
	}
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Models: names})
	}
	fmt.Fprintf(formatter.Writer, "✓ All models valid (%d)\n", len(names))
	return nil
}

// failLoad reports the first error of a load that produced nothing.
func failLoad(formatter *OutputFormatter, errs []error) error {
	var loadErr *LoadError
	if len(errs) > 0 && errors.As(errs[0], &loadErr) {
		return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
	}
	msg := "no models loaded"
	if len(errs) > 0 {
		msg = errs[0].Error()
	}
	return formatter.Fail(ExitCommandError, ErrCodeGeneric, msg, nil)
}

func toValidationError(err error) compiler.ValidationError {
	var ve compiler.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		ve := compiler.ValidationError{Model: "load", Message: loadErr.Message, Code: loadErr.Code}
		if loadErr.Pos.IsValid() {
			ve.Line = loadErr.Pos.Line()
		}
		return ve
	}
	return compiler.ValidationError{Model: "load", Message: err.Error(), Code: ErrCodeGeneric}
}

// outputValidationErrors writes every validation error. Invalid models
// exit with ExitFailure.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		_ = formatter.Error(errs[0].Code, fmt.Sprintf("%d validation error(s)", len(errs)),
			ValidationResult{Valid: false, Errors: errs})
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %d validation error(s):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(formatter.Writer, "  %s\n", e.Error())
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(errs)))
}
