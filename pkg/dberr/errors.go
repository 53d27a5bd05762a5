// Package dberr defines the typed errors surfaced by the database engine.
//
// Every error carries a numeric code that mirrors the server error codes
// used by MongoDB, so fixtures written against that convention can assert
// on them directly.
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error. A Kind is itself an error so it can be used as
// an errors.Is target: errors.Is(err, dberr.DuplicateKey).
type Kind int

const (
	BadValue Kind = iota + 1
	InvalidFieldName
	BadIndexSpec
	DuplicateKey
	BadOperatorUsage
	TypeMismatch
	AggregationStageError
	QueryCompileError
	NotFound
)

// Error implements error for Kind
func (k Kind) Error() string {
	return k.String()
}

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case BadValue:
		return "BadValue"
	case InvalidFieldName:
		return "InvalidFieldName"
	case BadIndexSpec:
		return "BadIndexSpec"
	case DuplicateKey:
		return "DuplicateKey"
	case BadOperatorUsage:
		return "BadOperatorUsage"
	case TypeMismatch:
		return "TypeMismatch"
	case AggregationStageError:
		return "AggregationStageError"
	case QueryCompileError:
		return "QueryCompileError"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Server-compatible error codes
const (
	CodeBadValue                  = 2
	CodeFailedToParse             = 9
	CodeTypeMismatch              = 14
	CodeNamespaceNotFound         = 26
	CodeIndexNotFound             = 27
	CodeConflictingUpdate         = 40
	CodeNoMatchingDocument        = 47
	CodeNamespaceExists           = 48
	CodeImmutableField            = 66
	CodeBadIndexKeyPattern        = 67
	CodeInvalidOptions            = 72
	CodeInvalidNamespace          = 73
	CodeIndexOptionsConflict      = 85
	CodeDocumentValidation        = 121
	CodeCollectionFull            = 10003
	CodeDocumentTooLarge          = 10334
	CodeDuplicateKey              = 11000
	CodeGeoFirstInIndex           = 13023
	CodeGroupAccumulator          = 15952
	CodeStageValidation           = 15955
	CodeSkipNegative              = 15956
	CodeLimitNonPositive          = 15958
	CodeInvalidExpressionOperator = 15999
	CodeDateOperand               = 16006
	CodeStageSingleKey            = 16435
	CodeUnknownStage              = 16436
	CodeScriptFailed              = 16722
	CodeHashedArray               = 16766
	CodeUnwindPreserveNotBool     = 28810
	CodeUnwindNoPath              = 28812
	CodeUnwindPathDollar          = 28818
	CodeReplaceRootNotDocument    = 40228
	CodeNoGeoIndex                = -5

	CodeExpressionArity     = 16020
	CodeAddType             = 16554
	CodeMultiplyType        = 16555
	CodeSubtractType        = 16556
	CodeDivideByZero        = 16608
	CodeDivideType          = 16609
	CodeModByZero           = 16610
	CodeConcatType          = 16702
	CodeSizeNotArray        = 17124
	CodeGroupFieldNotObject = 15951
	CodeGroupFieldDotted    = 16414
	CodeLookupMissingField  = 4572
	CodeFilterInput         = 28651
	CodeArrayElemAt         = 28689
	CodeSampleSize          = 28747
	CodeGeoNearNotFirst     = 28837
	CodeProjectionEmpty     = 40177
	CodeProjectionMixed     = 40178
	CodeInNotArray          = 40081
	CodeCountField          = 40156
	CodeBucketBoundaries    = 40192
	CodeOutNotLast          = 40601
)

// Error is the structured error returned by every engine operation
type Error struct {
	Kind    Kind
	Code    int
	Message string

	// Index and KeyValues are set for DuplicateKey
	Index     string
	KeyValues string

	// Path is set for BadOperatorUsage
	Path string

	// Expected and Actual are set for TypeMismatch
	Expected string
	Actual   string
}

// Error formats the error message
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is this error's Kind
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return false
}

// New creates an Error of the given kind and code
func New(kind Kind, code int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// BadValuef creates a BadValue error with code 2
func BadValuef(format string, args ...interface{}) *Error {
	return New(BadValue, CodeBadValue, format, args...)
}

// Compilef creates a QueryCompileError with code 2
func Compilef(format string, args ...interface{}) *Error {
	return New(QueryCompileError, CodeBadValue, format, args...)
}

// FieldName creates an InvalidFieldName error
func FieldName(format string, args ...interface{}) *Error {
	return New(InvalidFieldName, CodeBadValue, format, args...)
}

// IndexSpec creates a BadIndexSpec error
func IndexSpec(code int, format string, args ...interface{}) *Error {
	return New(BadIndexSpec, code, format, args...)
}

// Duplicate creates a DuplicateKey error for the namespaced index
func Duplicate(ns, index, keyValues string) *Error {
	return &Error{
		Kind:      DuplicateKey,
		Code:      CodeDuplicateKey,
		Index:     index,
		KeyValues: keyValues,
		Message:   fmt.Sprintf("E11000 duplicate key error index: %s.$%s dup key: %s", ns, index, keyValues),
	}
}

// Operator creates a BadOperatorUsage error for path
func Operator(code int, path, format string, args ...interface{}) *Error {
	e := New(BadOperatorUsage, code, format, args...)
	e.Path = path
	return e
}

// Mismatch creates a TypeMismatch error
func Mismatch(expected, actual string) *Error {
	return &Error{
		Kind:     TypeMismatch,
		Code:     CodeTypeMismatch,
		Expected: expected,
		Actual:   actual,
		Message:  fmt.Sprintf("type mismatch: expected %s, got %s", expected, actual),
	}
}

// Stage creates an AggregationStageError
func Stage(code int, format string, args ...interface{}) *Error {
	return New(AggregationStageError, code, format, args...)
}

// CodeOf returns the code of the first *Error in err's chain, or 0
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// KindOf returns the kind of the first *Error in err's chain, or 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// FormatKey renders key values the way duplicate key messages show them
func FormatKey(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = ": " + v
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}
