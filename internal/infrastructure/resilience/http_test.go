package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassifyHTTPError(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		retry bool
		rec   bool
	}{
		{"canceled", context.Canceled, false, false},
		{"open circuit", gobreaker.ErrOpenState, true, true},
		{"503", &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, true, true},
		{"429 wrapped", fmt.Errorf("embed: %w", &HTTPStatusError{StatusCode: http.StatusTooManyRequests}), true, true},
		{"400", &HTTPStatusError{StatusCode: http.StatusBadRequest}, false, false},
		{"network", timeoutNetError{}, true, true},
		{"other", errors.New("decode failed"), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyHTTPError(tc.err)
			if got.Retryable != tc.retry || got.RecordFailure != tc.rec {
				t.Fatalf("ClassifyHTTPError(%v) = %+v", tc.err, got)
			}
		})
	}
}

func TestWrapTemporary(t *testing.T) {
	err := WrapTemporary("rerank", &HTTPStatusError{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary kind, got %v", err)
	}
	permanent := &HTTPStatusError{StatusCode: http.StatusUnauthorized}
	if err := WrapTemporary("rerank", permanent); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("401 must stay permanent")
	}
	if WrapTemporary("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestReadHTTPErrorKeepsBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		Status:     "502 Bad Gateway",
		Body:       io.NopCloser(strings.NewReader("model unavailable")),
	}
	err := ReadHTTPError("ollama", "embed", resp)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected error %v", err)
	}
	if !strings.Contains(err.Error(), "ollama embed status: 502 Bad Gateway: model unavailable") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
