package fragments

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOwnership indicates a fragment already bound to another owner or
	// attribute was assigned elsewhere. Copy the fragment first.
	ErrOwnership = errors.New("fragments: fragments can only belong to one owner, try copying instead")
	// ErrTypeMismatch indicates a value does not satisfy the declared type of
	// the attribute or array it was assigned to.
	ErrTypeMismatch = errors.New("fragments: type mismatch")
	// ErrDefaultShape indicates a configured default value is not the
	// container kind the attribute expects.
	ErrDefaultShape = errors.New("fragments: default value has the wrong shape")
	// ErrUnknownType indicates a type name that was never registered.
	ErrUnknownType = errors.New("fragments: unknown type")
	// ErrUnknownAttribute indicates an attribute name missing from the type.
	ErrUnknownAttribute = errors.New("fragments: unknown attribute")
	// ErrIndexOutOfRange indicates an array position outside the content.
	ErrIndexOutOfRange = errors.New("fragments: index out of range")
	// ErrDuplicateType indicates a type name registered twice.
	ErrDuplicateType = errors.New("fragments: type already registered")
)

// FragmentError records the operation and location of a core failure.
type FragmentError struct {
	Op   string
	Type string
	Key  string
	Err  error
}

func (e *FragmentError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Type != "" {
		fmt.Fprintf(&b, " type=%s", e.Type)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key=%s", e.Key)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *FragmentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(op, typeName, key string, err error) error {
	return &FragmentError{Op: op, Type: typeName, Key: key, Err: err}
}

func errorf(op, typeName, key string, sentinel error, format string, args ...any) error {
	return newError(op, typeName, key, fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)))
}

// ValidationError lists the rules that failed for one fragment or record.
type ValidationError struct {
	Type     string
	Path     string
	Failures []RuleFailure
}

// RuleFailure describes a single failed rule.
type RuleFailure struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		if failure.Message != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", failure.Rule, failure.Message))
			continue
		}
		parts = append(parts, failure.Rule)
	}
	location := e.Type
	if e.Path != "" {
		location = e.Path
	}
	return fmt.Sprintf("fragments: %s failed validation: %s", location, strings.Join(parts, ", "))
}
