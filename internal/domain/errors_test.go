package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{name: "validation sentinel", err: ErrItemsRequired, check: IsValidation, want: true},
		{name: "wrapped not found", err: fmt.Errorf("load order 7: %w", ErrOrderNotFound), check: IsNotFound, want: true},
		{name: "joined conflict", err: errors.Join(ErrPaymentExists, errors.New("extra")), check: IsConflict, want: true},
		{name: "insufficient stock", err: ErrInsufficientStock, check: IsInsufficient, want: true},
		{name: "remote call is external", err: ErrRemoteCall, check: IsExternal, want: true},
		{name: "not found is not conflict", err: ErrOrderNotFound, check: IsConflict, want: false},
		{name: "nil error", err: nil, check: IsNotFound, want: false},
		{name: "critical", err: fmt.Errorf("order 3: %w", ErrCriticalInconsistency), check: IsCritical, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("check(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorCodeRoundTrip(t *testing.T) {
	for _, err := range []error{ErrInsufficientStock, ErrPaymentExists, ErrOrderNotFound, ErrItemNotInOrder} {
		code := ErrorCode(fmt.Errorf("context: %w", err))
		if code == "" {
			t.Fatalf("expected code for %v", err)
		}
		restored := ErrorFromCode(code, "")
		if !errors.Is(restored, err) {
			t.Fatalf("expected %v after round trip, got %v", err, restored)
		}
	}
}

func TestErrorCodeFallsBackToClass(t *testing.T) {
	err := fmt.Errorf("%w: broker down", ErrExternal)
	if code := ErrorCode(err); code != "external" {
		t.Fatalf("expected external, got %q", code)
	}
	if code := ErrorCode(errors.New("boom")); code != "" {
		t.Fatalf("expected empty code for unclassified error, got %q", code)
	}
}

func TestErrorFromUnknownCodeIsExternal(t *testing.T) {
	err := ErrorFromCode("something_new", "remote said no")
	if !IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
}

func TestKnownCode(t *testing.T) {
	if !KnownCode(ErrorCode(ErrOrderNotFound)) {
		t.Fatal("order_not_found must be a known code")
	}
	if KnownCode("") || KnownCode("something_new") {
		t.Fatal("empty and unknown codes must not be known")
	}
}
