package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	pkgsync "github.com/stacklok/bimsync/internal/sync"
	"github.com/stacklok/bimsync/internal/versions"
)

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, r, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func readinessHandler(rc ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rc != nil && !rc.Ready() {
			writeErrorResponse(w, r, "watches are still starting", http.StatusServiceUnavailable)
			return
		}
		writeJSONResponse(w, r, ReadinessResponse{Status: "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, r, versions.GetVersionInfo(), http.StatusOK)
}

// listSessionsHandler handles GET /v1/sessions, optionally filtered by ?itemId=
func listSessionsHandler(sessions SessionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := sessions.Sessions()
		itemID := r.URL.Query().Get("itemId")

		out := make([]pkgsync.SessionSnapshot, 0, len(all))
		for _, s := range all {
			if itemID == "" || s.ItemID == itemID {
				out = append(out, s)
			}
		}

		writeJSONResponse(w, r, SessionsResponse{Sessions: out, Count: len(out)}, http.StatusOK)
	}
}

// getSessionHandler handles GET /v1/sessions/{id}
func getSessionHandler(sessions SessionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlParam(r, "id")
		if err != nil {
			writeErrorResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}

		for _, s := range sessions.Sessions() {
			if s.ID == id {
				writeJSONResponse(w, r, s, http.StatusOK)
				return
			}
		}
		writeErrorResponse(w, r, fmt.Sprintf("session %s not found", id), http.StatusNotFound)
	}
}

// urlParam extracts and decodes a chi URL parameter.
// The value must not be empty or contain whitespace.
func urlParam(r *http.Request, name string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", name)
	}
	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", name)
	}
	return decoded, nil
}

func writeJSONResponse(w http.ResponseWriter, r *http.Request, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "Failed to encode response")
	}
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	writeJSONResponse(w, r, ErrorResponse{Error: message}, statusCode)
}
