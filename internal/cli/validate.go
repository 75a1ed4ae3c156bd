package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/sweep/internal/objective"
	"github.com/roach88/sweep/internal/study"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Studies []StudySummary    `json:"studies,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// StudySummary describes one study that compiled cleanly.
type StudySummary struct {
	Name      string `json:"name"`
	Table     string `json:"table"`
	Objective string `json:"objective"`
	Oracle    string `json:"oracle"`
	Budget    int    `json:"budget"`
	Params    int    `json:"params"`
}

// ValidationError is one problem found in a study directory.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <study-dir>",
		Short: "Validate study definitions without running them",
		Long: `Compile every study in a CUE directory and report all problems:
syntax errors, missing fields, invalid search spaces and unknown
objectives or oracles.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loaded, errs := study.Load(dir, study.LoadModeCollectAll)
	result := ValidationResult{Valid: true}
	for _, err := range errs {
		result.Errors = append(result.Errors, toValidationError(err))
	}

	if loaded != nil {
		formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)
		for _, s := range loaded.Studies {
			if _, err := objective.Lookup(s.Objective); err != nil {
				result.Errors = append(result.Errors, ValidationError{Code: study.ErrCodeObjective, Message: "study." + s.Name + ": " + err.Error()})
				continue
			}
			result.Studies = append(result.Studies, StudySummary{
				Name:      s.Name,
				Table:     s.Table,
				Objective: s.Objective,
				Oracle:    s.Oracle,
				Budget:    s.Budget,
				Params:    len(s.Params),
			})
		}
	}
	result.Valid = len(result.Errors) == 0

	if formatter.JSON() {
		if result.Valid {
			return formatter.Success(result)
		}
		if err := formatter.Error(result.Errors[0].Code, "validation failed", result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	for _, s := range result.Studies {
		formatter.Pass("%s (table %s, objective %s, oracle %s, %d params)", s.Name, s.Table, s.Objective, s.Oracle, s.Params)
	}
	for _, e := range result.Errors {
		formatter.Fail("[%s] %s", e.Code, e.Message)
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func toValidationError(err error) ValidationError {
	var loadErr *study.LoadError
	if errors.As(err, &loadErr) {
		ve := ValidationError{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			ve.Line = loadErr.Pos.Line()
		}
		return ve
	}
	return ValidationError{Code: study.ErrCodeGeneric, Message: err.Error()}
}
