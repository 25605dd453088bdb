package fault_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/voxgate/voxgate/pkg/fault"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	base := errors.New("connection refused")
	err := fault.New(fault.KindBackendUnavailable, "session: get", base)

	want := "session: get: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error not reachable via errors.Is")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{
			name: "classified error",
			err:  fault.Errorf(fault.KindPolicyDenied, "gateway: route", "tenant %q denied", "t1"),
			want: fault.KindPolicyDenied,
		},
		{
			name: "classified error wrapped further",
			err:  fmt.Errorf("outer: %w", fault.New(fault.KindProviderAuth, "llm: complete", errors.New("401"))),
			want: fault.KindProviderAuth,
		},
		{
			name: "bare context cancellation",
			err:  fmt.Errorf("pipeline: consume: %w", context.Canceled),
			want: fault.KindCancelled,
		},
		{
			name: "deadline is not cancellation",
			err:  context.DeadlineExceeded,
			want: fault.KindInternal,
		},
		{
			name: "unclassified error",
			err:  errors.New("boom"),
			want: fault.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := fault.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind fault.Kind
		code string
	}{
		{fault.KindInputValidation, "INVALID_REQUEST"},
		{fault.KindPolicyDenied, "POLICY_DENIED"},
		{fault.KindProviderTransient, "PROVIDER_UNAVAILABLE"},
		{fault.KindProviderAuth, "PROVIDER_AUTH"},
		{fault.KindBackendUnavailable, "BACKEND_UNAVAILABLE"},
		{fault.KindCancelled, "CANCELLED"},
		{fault.KindInternal, "INTERNAL"},
	}

	for _, tt := range tests {
		if got := tt.kind.Code(); got != tt.code {
			t.Errorf("Kind(%v).Code() = %q, want %q", tt.kind, got, tt.code)
		}
	}
}
