package study

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/sweep/internal/ir"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the studies compiled from a directory.
type LoadResult struct {
	Studies   []ir.StudySpec
	FileCount int
}

// Find returns the study called name. An empty name selects the only
// study, and is an error when there are several.
func (r *LoadResult) Find(name string) (*ir.StudySpec, error) {
	if name == "" {
		if len(r.Studies) != 1 {
			return nil, &LoadError{Code: ErrCodeAmbiguous, Message: fmt.Sprintf("%d studies defined; choose one with --study", len(r.Studies))}
		}
		return &r.Studies[0], nil
	}
	for i := range r.Studies {
		if r.Studies[i].Name == name {
			return &r.Studies[i], nil
		}
	}
	return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("study %q not found", name)}
}

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes shared by the CLI commands.
const (
	ErrCodeGeneric     = "E001" // generic/unknown error
	ErrCodeScanError   = "E002" // directory scan error
	ErrCodeNoFiles     = "E003" // no CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // path or study not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeAmbiguous   = "E007" // several studies, none selected

	ErrCodeTable     = "E101" // missing or invalid table
	ErrCodeObjective = "E102" // missing objective
	ErrCodeParams    = "E103" // invalid search space
	ErrCodeMetric    = "E104" // missing or invalid metric
	ErrCodeOracle    = "E105" // unknown oracle
	ErrCodeBudget    = "E106" // negative budget or priming
)

// MapFieldToErrorCode maps a CompileError field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "table":
		return ErrCodeTable
	case field == "objective":
		return ErrCodeObjective
	case field == "params" || strings.HasPrefix(field, "params.") || field == "type" || field == "values":
		return ErrCodeParams
	case field == "metric" || strings.HasPrefix(field, "metric.") || field == "name" || field == "goal":
		return ErrCodeMetric
	case field == "oracle":
		return ErrCodeOracle
	case field == "budget" || field == "priming":
		return ErrCodeBudget
	default:
		return ErrCodeGeneric
	}
}

// Load compiles every study under the top-level "study" field of the CUE
// package in dir. With LoadModeFailFast it returns on the first error.
func Load(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("study directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing study directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{FileCount: len(files)}
	errs := compileAll(value, result, mode)
	if len(result.Studies) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no studies found"})
	}
	return result, errs
}

// LoadString compiles the studies in a single CUE source, for tests and
// inline definitions.
func LoadString(src string, mode LoadMode) (*LoadResult, []error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	result := &LoadResult{FileCount: 1}
	return result, compileAll(value, result, mode)
}

func compileAll(value cue.Value, result *LoadResult, mode LoadMode) []error {
	studies := value.LookupPath(cue.ParsePath("study"))
	if !studies.Exists() {
		return nil
	}

	iter, err := studies.Fields()
	if err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating studies: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		spec, err := Compile(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "study."+iter.Label()))
			if mode == LoadModeFailFast {
				return errs
			}
			continue
		}
		result.Studies = append(result.Studies, *spec)
	}
	return errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
