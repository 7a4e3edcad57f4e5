package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestErrorClassification(t *testing.T) {
	rateLimited := &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}

	tests := []struct {
		name      string
		err       error
		auth      bool
		transient bool
	}{
		{"nil", nil, false, false},
		{"plain error", errors.New("boom"), false, false},
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, true, false},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, true, false},
		{"wrapped unauthorized", fmt.Errorf("upload: %w", &googleapi.Error{Code: 401}), true, false},
		{"rate limited 403", rateLimited, false, true},
		{"too many requests", &googleapi.Error{Code: http.StatusTooManyRequests}, false, true},
		{"server error", &googleapi.Error{Code: http.StatusBadGateway}, false, true},
		{"not found", &googleapi.Error{Code: http.StatusNotFound}, false, false},
		{"timeout", fmt.Errorf("list: %w", timeoutErr{}), false, true},
		{"deadline", context.DeadlineExceeded, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.auth, IsAuthError(tt.err), "IsAuthError")
			assert.Equal(t, tt.transient, IsTransient(tt.err), "IsTransient")
		})
	}
}
