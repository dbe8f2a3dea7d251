package grid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/refexgrid/internal/model"
)

// ErrorCode categorizes grid errors.
type ErrorCode string

const (
	// ErrCodeSchema indicates an assemblage concept is not a usable schema.
	ErrCodeSchema ErrorCode = "SCHEMA_ERROR"

	// ErrCodeDecode indicates a stored value cannot be decoded or rendered.
	ErrCodeDecode ErrorCode = "DECODE_ERROR"

	// ErrCodeScanFailure indicates the fallback scan failed part way.
	ErrCodeScanFailure ErrorCode = "SCAN_FAILURE"

	// ErrCodeCommitFailure indicates a commit was rejected by the store.
	ErrCodeCommitFailure ErrorCode = "COMMIT_FAILURE"

	// ErrCodeCancelFailure indicates a cancel was rejected by the store.
	ErrCodeCancelFailure ErrorCode = "CANCEL_FAILURE"

	// ErrCodeAnnotationCycle indicates an annotation references its own
	// ancestor chain.
	ErrCodeAnnotationCycle ErrorCode = "ANNOTATION_CYCLE"
)

// Error is a localized grid failure.
type Error struct {
	Code    ErrorCode
	Message string

	// Context for reproducing the failure. Zero values are omitted.
	NID        model.NID
	Assemblage model.NID
	Column     string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var ctx []string
	if e.NID != 0 {
		ctx = append(ctx, fmt.Sprintf("nid=%d", e.NID))
	}
	if e.Assemblage != 0 {
		ctx = append(ctx, fmt.Sprintf("assemblage=%d", e.Assemblage))
	}
	if e.Column != "" {
		ctx = append(ctx, "column="+e.Column)
	}

	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(ctx) > 0 {
		msg += " (" + strings.Join(ctx, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// LogAttrs returns the error's context as slog key/value pairs.
func (e *Error) LogAttrs() []any {
	attrs := []any{"code", string(e.Code)}
	if e.NID != 0 {
		attrs = append(attrs, "nid", e.NID)
	}
	if e.Assemblage != 0 {
		attrs = append(attrs, "assemblage", e.Assemblage)
	}
	if e.Column != "" {
		attrs = append(attrs, "column", e.Column)
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}
	return attrs
}

func hasCode(err error, code ErrorCode) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}

// IsSchemaError reports whether err is a schema error.
func IsSchemaError(err error) bool { return hasCode(err, ErrCodeSchema) }

// IsDecodeError reports whether err is a decode error.
func IsDecodeError(err error) bool { return hasCode(err, ErrCodeDecode) }

// IsScanFailure reports whether err is a fallback scan failure.
func IsScanFailure(err error) bool { return hasCode(err, ErrCodeScanFailure) }

// IsCommitFailure reports whether err is a commit failure.
func IsCommitFailure(err error) bool { return hasCode(err, ErrCodeCommitFailure) }

// IsCancelFailure reports whether err is a cancel failure.
func IsCancelFailure(err error) bool { return hasCode(err, ErrCodeCancelFailure) }

// IsAnnotationCycle reports whether err is an annotation cycle.
func IsAnnotationCycle(err error) bool { return hasCode(err, ErrCodeAnnotationCycle) }

func schemaError(assemblage model.NID, err error) *Error {
	return &Error{
		Code:       ErrCodeSchema,
		Message:    "not usable as an assemblage",
		Assemblage: assemblage,
		Err:        err,
	}
}

func decodeError(nid, assemblage model.NID, column string, err error) *Error {
	return &Error{
		Code:       ErrCodeDecode,
		Message:    "cannot render value",
		NID:        nid,
		Assemblage: assemblage,
		Column:     column,
		Err:        err,
	}
}

func cycleError(refex *model.Chronicle) *Error {
	return &Error{
		Code:       ErrCodeAnnotationCycle,
		Message:    "annotation references its ancestor chain",
		NID:        refex.NID,
		Assemblage: refex.AssemblageNID,
	}
}
