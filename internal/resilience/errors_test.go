package resilience

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type codedErr struct{ code int }

func (e codedErr) Error() string   { return "coded" }
func (e codedErr) HTTPStatus() int { return e.code }

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", NewStatusError("x", 429, ""), true},
		{"500", NewStatusError("x", 500, ""), true},
		{"502 wrapped", eris.Wrap(NewStatusError("x", 502, ""), "call"), true},
		{"503", NewStatusError("x", 503, ""), true},
		{"400", NewStatusError("x", 400, ""), false},
		{"401", NewStatusError("x", 401, ""), false},
		{"403", NewStatusError("x", 403, ""), false},
		{"404", NewStatusError("x", 404, ""), false},
		{"504", NewStatusError("x", 504, ""), false},
		{"transient 503", NewTransientError(errors.New("busy"), 503), true},
		{"transient 504", NewTransientError(errors.New("gateway timeout"), 504), false},
		{"transient 404", NewTransientError(errors.New("request timed out"), 404), false},
		{"status 401 with timeout text", eris.Wrap(NewStatusError("x", 401, "token timeout"), "call"), false},
		{"http status interface", codedErr{code: 503}, true},
		{"attempt timeout", eris.Wrap(ErrAttemptTimeout, "after 60s"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"econnreset errno", syscall.ECONNRESET, true},
		{"econnreset string", errors.New("read tcp: ECONNRESET"), true},
		{"fetch failed", errors.New("TypeError: fetch failed"), true},
		{"transient wrapper", NewTransientError(errors.New("x"), 0), true},
		{"plain", errors.New("invalid json"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	err := NewStatusError("openai", 401, "bad key")
	assert.Equal(t, "openai: unexpected status 401: bad key", err.Error())
	assert.Equal(t, 401, StatusCode(eris.Wrap(err, "search")))
	assert.Equal(t, 0, StatusCode(errors.New("x")))
	assert.Equal(t, 502, StatusCode(NewTransientError(errors.New("x"), 502)))
}

func TestHTTPStatusClassification(t *testing.T) {
	t.Parallel()

	for _, code := range []int{429, 500, 502, 503} {
		assert.True(t, IsRetryableHTTPStatus(code), code)
	}
	for _, code := range []int{400, 401, 403, 404, 504} {
		assert.False(t, IsRetryableHTTPStatus(code), code)
	}
}
