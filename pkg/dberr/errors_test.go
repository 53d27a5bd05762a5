package dberr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{BadValue, "BadValue"},
		{InvalidFieldName, "InvalidFieldName"},
		{BadIndexSpec, "BadIndexSpec"},
		{DuplicateKey, "DuplicateKey"},
		{BadOperatorUsage, "BadOperatorUsage"},
		{TypeMismatch, "TypeMismatch"},
		{AggregationStageError, "AggregationStageError"},
		{QueryCompileError, "QueryCompileError"},
		{NotFound, "NotFound"},
		{Kind(0), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %s, want %s", int(tt.kind), got, tt.want)
		}
	}
}

func TestErrorsIsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("insert into users: %w", Duplicate("test.users", "_id_", FormatKey([]string{"1"})))

	if !errors.Is(err, DuplicateKey) {
		t.Error("Expected errors.Is to match DuplicateKey")
	}
	if errors.Is(err, BadValue) {
		t.Error("Expected errors.Is not to match BadValue")
	}
	if CodeOf(err) != CodeDuplicateKey {
		t.Errorf("Expected code %d, got %d", CodeDuplicateKey, CodeOf(err))
	}
	if KindOf(err) != DuplicateKey {
		t.Errorf("Expected kind DuplicateKey, got %s", KindOf(err))
	}

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("Expected errors.As to find *Error")
	}
	if e.Index != "_id_" || e.KeyValues != "{ : 1 }" {
		t.Errorf("Unexpected duplicate key details: %+v", e)
	}
	want := "E11000 duplicate key error index: test.users.$_id_ dup key: { : 1 }"
	if e.Error() != want {
		t.Errorf("Expected %q, got %q", want, e.Error())
	}
}

func TestPlainErrors(t *testing.T) {
	err := errors.New("boom")
	if CodeOf(err) != 0 || KindOf(err) != 0 {
		t.Error("Expected zero code and kind for a foreign error")
	}
	if CodeOf(nil) != 0 {
		t.Error("Expected zero code for nil")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
		code int
	}{
		{"bad value", BadValuef("bad %s", "x"), BadValue, CodeBadValue},
		{"compile", Compilef("unknown operator %s", "$bogus"), QueryCompileError, CodeBadValue},
		{"field name", FieldName("field names cannot start with $"), InvalidFieldName, CodeBadValue},
		{"index spec", IndexSpec(CodeBadIndexKeyPattern, "bad key pattern"), BadIndexSpec, CodeBadIndexKeyPattern},
		{"operator", Operator(CodeConflictingUpdate, "a.b", "conflict"), BadOperatorUsage, CodeConflictingUpdate},
		{"mismatch", Mismatch("number", "string"), TypeMismatch, CodeTypeMismatch},
		{"stage", Stage(CodeUnknownStage, "unknown stage $foo"), AggregationStageError, CodeUnknownStage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, tt.err.Kind)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Expected code %d, got %d", tt.code, tt.err.Code)
			}
			if tt.err.Error() == "" {
				t.Error("Expected a message")
			}
		})
	}

	if e := Operator(CodeConflictingUpdate, "a.b", "conflict"); e.Path != "a.b" {
		t.Errorf("Expected path a.b, got %s", e.Path)
	}
	if e := Mismatch("number", "string"); e.Message != "type mismatch: expected number, got string" {
		t.Errorf("Unexpected message %q", e.Message)
	}
}
