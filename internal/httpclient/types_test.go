package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/bimsync/internal/syncerr"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	err := NewHTTPError(404, "http://example.com", "Not Found")
	require.Error(t, err)
	assert.Equal(t, "HTTP 404 for URL http://example.com: Not Found", err.Error())

	err = NewHTTPError(404, "http://example.com", "")
	assert.Equal(t, "HTTP 404 for URL http://example.com: ", err.Error())
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		header     http.Header
		code       syncerr.Code
		retryAfter time.Duration
	}{
		{name: "401 is auth", statusCode: http.StatusUnauthorized, code: syncerr.CodeAuth},
		{name: "403 is auth", statusCode: http.StatusForbidden, code: syncerr.CodeAuth},
		{name: "404 is not found", statusCode: http.StatusNotFound, code: syncerr.CodeNotFound},
		{name: "500 is transient", statusCode: http.StatusInternalServerError, code: syncerr.CodeTransient},
		{name: "503 is transient", statusCode: http.StatusServiceUnavailable, code: syncerr.CodeTransient},
		{
			name:       "429 is transient and honours retry-after",
			statusCode: http.StatusTooManyRequests,
			header:     http.Header{"Retry-After": []string{"7"}},
			code:       syncerr.CodeTransient,
			retryAfter: 7 * time.Second,
		},
		{name: "400 is a plain http error", statusCode: http.StatusBadRequest, code: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			resp := &http.Response{
				StatusCode: tt.statusCode,
				Status:     http.StatusText(tt.statusCode),
				Header:     header,
			}

			err := statusError("GET /x", "http://example.com/x", resp)
			require.Error(t, err)
			assert.Equal(t, tt.code, syncerr.CodeOf(err))

			if tt.code == "" {
				var httpErr *HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, tt.statusCode, httpErr.StatusCode)
			}
			if tt.retryAfter != 0 {
				var transient *syncerr.TransientNetworkError
				require.ErrorAs(t, err, &transient)
				assert.Equal(t, tt.retryAfter, transient.RetryAfter)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage", now))
	assert.Equal(t, 10*time.Second, parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
