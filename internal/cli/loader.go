package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue/token"

	"github.com/roach88/refexgrid/internal/schemadef"
)

// LoadMode controls how errors are handled during schema loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the assemblage definitions found under a path.
type LoadResult struct {
	Assemblages []schemadef.AssemblageDef
	FileCount   int // Number of CUE files read
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchemas compiles one CUE file, or every CUE file under a directory
// in lexical order. Assemblage names must be unique across files.
func LoadSchemas(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema path: %v", err)}}
	}

	files := []string{path}
	if info.IsDir() {
		if files, err = FindCUEFiles(path); err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
	}

	var errs []error
	result := &LoadResult{FileCount: len(files)}
	seen := make(map[string]string)
	for _, file := range files {
		defs, err := schemadef.LoadFile(file)
		if err != nil {
			errs = append(errs, convertCompileError(err, file))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		for _, def := range defs {
			if prev, dup := seen[def.Name]; dup {
				errs = append(errs, &LoadError{
					Code:    ErrCodeDuplicate,
					Message: fmt.Sprintf("assemblage %q in %s is already defined in %s", def.Name, file, prev),
				})
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			seen[def.Name] = file
			result.Assemblages = append(result.Assemblages, def)
		}
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths, sorted.
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
	slices.Sort(files)
	return files, err
}

// convertCompileError converts a schemadef error to a LoadError with
// position info.
func convertCompileError(err error, file string) *LoadError {
	var compileErr *schemadef.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeLoadFailed,
		Message: fmt.Sprintf("%s: %v", file, err),
	}
}

// Error code constants, shared by every command.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // File could not be read or parsed
	ErrCodeNotFound    = "E005" // Path, component or column not found
	ErrCodeBuildFailed = "E006" // CUE evaluation failed
	ErrCodeStore       = "E007" // Store open, read or write failed

	// Schema definition errors
	ErrCodeNoAssemblages = "E101" // File declares no assemblage
	ErrCodeInvalidUUID   = "E102" // uuid is not a UUID
	ErrCodeInvalidStyle  = "E103" // style is not annotation or member
	ErrCodeInvalidColumn = "E104" // Column concept, type or default invalid
	ErrCodeDuplicate     = "E105" // Assemblage defined twice
	ErrCodeInvalidField  = "E106" // Other field has the wrong kind

	// Grid errors
	ErrCodeView      = "E201" // View failed to materialize
	ErrCodeFilter    = "E202" // Bad --filter or --sort argument
	ErrCodeCommit    = "E203" // Commit rejected
	ErrCodeCancel    = "E204" // Cancel rejected
	ErrCodeScenarios = "E301" // One or more scenarios failed
)

// MapFieldToErrorCode maps a schemadef error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "assemblage":
		return ErrCodeNoAssemblages
	case "uuid":
		return ErrCodeInvalidUUID
	case "style":
		return ErrCodeInvalidStyle
	case "columns", "columns.concept", "columns.type", "columns.default":
		return ErrCodeInvalidColumn
	case "cue":
		return ErrCodeBuildFailed
	case "indexed", "description":
		return ErrCodeInvalidField
	default:
		return ErrCodeGeneric
	}
}
