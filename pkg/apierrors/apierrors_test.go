package apierrors

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidArgument:  400,
		CodeTransport:        502,
		CodeUnavailable:      503,
		CodeNotFound:         404,
		CodePermissionDenied: 403,
		Code("UNKNOWN"):      500,
	}

	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Fatalf("HTTPStatus(%s)=%d, want %d", code, got, want)
		}
	}
}

func TestGRPCStatus(t *testing.T) {
	cases := map[Code]codes.Code{
		CodeInvalidArgument:  codes.InvalidArgument,
		CodeTransport:        codes.Unavailable,
		CodeUnavailable:      codes.FailedPrecondition,
		CodeNotFound:         codes.NotFound,
		CodePermissionDenied: codes.PermissionDenied,
		Code("UNKNOWN"):      codes.Internal,
	}

	for code, want := range cases {
		if got := GRPCStatus(code); got != want {
			t.Fatalf("GRPCStatus(%s)=%s, want %s", code, got, want)
		}
	}
}

func TestFromGRPCRoundTrip(t *testing.T) {
	for _, code := range []Code{CodeInvalidArgument, CodeTransport, CodeUnavailable, CodeNotFound, CodePermissionDenied} {
		if got := FromGRPC(GRPCStatus(code)); got != code {
			t.Fatalf("FromGRPC(GRPCStatus(%s))=%s", code, got)
		}
	}
	if got := FromGRPC(codes.DataLoss); got != Code("INTERNAL_ERROR") {
		t.Fatalf("unexpected fallback %s", got)
	}
}

func TestFromErrorWrapped(t *testing.T) {
	base := New(CodeTransport, "tab unreachable")
	wrapped := fmt.Errorf("send: %w", base)

	apiErr, ok := FromError(wrapped)
	if !ok {
		t.Fatal("expected FromError to succeed")
	}
	if apiErr.Code != CodeTransport {
		t.Fatalf("unexpected code %s", apiErr.Code)
	}
	if !IsCode(wrapped, CodeTransport) {
		t.Fatal("IsCode should see wrapped code")
	}
	if _, ok := FromError(errors.New("plain")); ok {
		t.Fatal("plain error must not parse")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeTransport, "deliver failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable via errors.Is")
	}
	if err.Error() != "deliver failed: connection reset" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if New(CodeNotFound, "").Error() != string(CodeNotFound) {
		t.Fatal("empty message should fall back to code")
	}
}
