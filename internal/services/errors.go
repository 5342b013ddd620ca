package services

import (
	"fmt"
	"reflect"
)

// ArgumentError reports a missing required argument. It is returned before
// the lifecycle gateway is touched.
type ArgumentError struct {
	Op  string
	Arg string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: argument %q is required", e.Op, e.Arg)
}

// ObjectReconstructionError reports that a decoded handle could not be
// resolved to a local services facade.
type ObjectReconstructionError struct {
	Cause error
}

func (e *ObjectReconstructionError) Error() string {
	if e.Cause == nil {
		return "cannot reconstruct services facade"
	}
	return "cannot reconstruct services facade: " + e.Cause.Error()
}

func (e *ObjectReconstructionError) Unwrap() error {
	return e.Cause
}

func requireString(op, arg, value string) error {
	if value == "" {
		return &ArgumentError{Op: op, Arg: arg}
	}
	return nil
}

// requireValue rejects nil, including typed nil pointers held in an interface
func requireValue(op, arg string, value any) error {
	if isNil(value) {
		return &ArgumentError{Op: op, Arg: arg}
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
