package translation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/bimsync/internal/httpclient"
	"github.com/stacklok/bimsync/internal/syncerr"
	"github.com/stacklok/bimsync/internal/translation"
)

func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input     string
		want      translation.StatusKind
		wantKnown bool
	}{
		{"pending", translation.StatusProcessing, true},
		{"inprogress", translation.StatusProcessing, true},
		{"Processing", translation.StatusProcessing, true},
		{"success", translation.StatusSuccess, true},
		{"complete", translation.StatusSuccess, true},
		{"failed", translation.StatusFailure, true},
		{"timeout", translation.StatusFailure, true},
		{"queued-somewhere", translation.StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, known := translation.ParseStatus(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantKnown, known)
		})
	}
}

func TestHTTPUpstream_Submit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		wantAlready bool
		wantDerivs  int
		wantCode    syncerr.Code
	}{
		{
			name:   "accepted",
			status: http.StatusCreated,
			body:   `{"result":"created","urn":"urn:v1"}`,
		},
		{
			name:        "already translated",
			status:      http.StatusOK,
			body:        `{"result":"success","urn":"urn:v1","derivatives":[{"guid":"a","role":"3d"},{"guid":"b","role":"2d"}]}`,
			wantAlready: true,
			wantDerivs:  2,
		},
		{
			name:   "accepted with empty body",
			status: http.StatusAccepted,
		},
		{
			name:     "forbidden",
			status:   http.StatusForbidden,
			wantCode: syncerr.CodeAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotURN string
			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/translate", r.URL.Path)
				var body map[string]string
				_ = json.NewDecoder(r.Body).Decode(&body)
				gotURN = body["urn"]
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			up := translation.NewHTTPUpstream(httpclient.NewScopedClient(server.URL, "token"))

			res, err := up.Submit(context.Background(), "urn:v1")
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, syncerr.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "urn:v1", gotURN)
			assert.Equal(t, tt.wantAlready, res.AlreadyTranslated)
			if tt.wantAlready {
				require.NotNil(t, res.Manifest)
				assert.Len(t, res.Manifest.Derivatives, tt.wantDerivs)
			}
		})
	}
}

func TestHTTPUpstream_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		wantKind    translation.StatusKind
		wantMessage string
		wantDerivs  int
	}{
		{
			name:        "in progress",
			body:        `{"status":"inprogress","progress":"25% complete"}`,
			wantKind:    translation.StatusProcessing,
			wantMessage: "25% complete",
		},
		{
			name: "success with derivatives",
			body: `{"status":"success","derivatives":[
				{"guid":"a","name":"3D View","role":"3d","outputType":"svf2","status":"success"},
				{"guid":"b","name":"Sheet","role":"2d","outputType":"svf2","status":"success"},
				{"guid":"c","name":"IFC","role":"graphics","outputType":"ifc","status":"success"}]}`,
			wantKind:   translation.StatusSuccess,
			wantDerivs: 3,
		},
		{
			name:        "failed",
			body:        `{"status":"failed","message":"unsupported file format"}`,
			wantKind:    translation.StatusFailure,
			wantMessage: "unsupported file format",
		},
		{
			name:        "unknown status",
			body:        `{"status":"warming-up"}`,
			wantKind:    translation.StatusProcessing,
			wantMessage: `unrecognised status "warming-up"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/translate/urn:v1/status", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			up := translation.NewHTTPUpstream(httpclient.NewScopedClient(server.URL, "token"))

			res, err := up.Status(context.Background(), "urn:v1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Message)
			}
			if tt.wantKind == translation.StatusSuccess {
				require.NotNil(t, res.Manifest)
				assert.Equal(t, "urn:v1", res.Manifest.URN)
				assert.Len(t, res.Manifest.Derivatives, tt.wantDerivs)
				assert.Equal(t, "svf2", res.Manifest.Derivatives[0].OutputType)
			}
		})
	}
}

func TestHTTPUpstream_StatusErrors(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	up := translation.NewHTTPUpstream(httpclient.NewScopedClient(server.URL, "token"))

	_, err := up.Status(context.Background(), "urn:v1")
	require.Error(t, err)
	assert.True(t, syncerr.IsTransient(err))
}
