package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationError is one problem found in a schema file.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// AssemblageSummary describes one valid assemblage definition.
type AssemblageSummary struct {
	Name    string `json:"name"`
	Style   string `json:"style"`
	Indexed bool   `json:"indexed"`
	Columns int    `json:"columns"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	Files       int                 `json:"files"`
	Assemblages []AssemblageSummary `json:"assemblages,omitempty"`
	Errors      []ValidationError   `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schemas>",
		Short: "Validate assemblage schema definitions",
		Long: `Validate CUE assemblage schema definitions without touching a store.

<schemas> is a .cue file or a directory searched recursively for .cue
files. Every file is compiled and every error is reported with its
position.`,
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
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadSchemas(path, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	result := ValidationResult{Files: loadResult.FileCount}
	for _, def := range loadResult.Assemblages {
		formatter.VerboseLog("Validated assemblage: %s", def.Name)
		result.Assemblages = append(result.Assemblages, AssemblageSummary{
			Name:    def.Name,
			Style:   def.Style.String(),
			Indexed: def.Indexed,
			Columns: len(def.Columns),
		})
	}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toValidationError(err))
	}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d assemblage(s) valid\n", len(result.Assemblages))
	return nil
}

func toValidationError(err error) ValidationError {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		return ValidationError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	ve := ValidationError{Code: loadErr.Code, Message: loadErr.Message}
	if loadErr.Pos.IsValid() {
		ve.File = loadErr.Pos.Filename()
		ve.Line = loadErr.Pos.Line()
	}
	return ve
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.JSON() {
		first := result.Errors[0]
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", e.File, e.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return exitErr
}
