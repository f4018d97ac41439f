// Package test provides small assertion helpers shared by this module's
// tests (core/dn_test.go uses plain t.Errorf instead), reconstructed from their call sites across the
// reference set (sa/model_test.go, ca/certificate-authority-data_test.go);
// the teacher's own test package source was filtered out of the retrieved
// set.
package test

import (
	"errors"
	"reflect"
	"testing"
)

// AssertNotError fails the test if err is non-nil.
func AssertNotError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error, got nil", msg)
	}
}

// AssertErrorWraps fails the test if err does not wrap a value assignable
// to target, mirroring errors.As.
func AssertErrorWraps(t *testing.T, err error, target interface{}) {
	t.Helper()
	if !errors.As(err, target) {
		t.Fatalf("expected error chain %v to wrap %T", err, target)
	}
}

// AssertEquals fails the test if a != b.
func AssertEquals(t *testing.T, a, b interface{}) {
	t.Helper()
	if a != b {
		t.Fatalf("expected %#v to equal %#v", a, b)
	}
}

// AssertDeepEquals fails the test if a and b are not reflect.DeepEqual.
func AssertDeepEquals(t *testing.T, a, b interface{}) {
	t.Helper()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected %#v to deep-equal %#v", a, b)
	}
}

// AssertTrue fails the test if cond is false.
func AssertTrue(t *testing.T, cond bool, msg string) {
	t.Helper()
	if !cond {
		t.Fatalf("expected true: %s", msg)
	}
}
