package sources

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-logr/logr"
	"github.com/tidwall/gjson"

	"github.com/stacklok/bimsync/internal/syncerr"
)

// Getter is the subset of httpclient.ScopedClient the adapters need
type Getter interface {
	Get(ctx context.Context, path string, query url.Values) (int, []byte, error)
}

// fetchDocument performs one listing call and returns the parsed document.
// A 404 is reported against the parent resource, since that is the id upstream did not know.
func fetchDocument(
	ctx context.Context, client Getter, path string, query url.Values, parent, parentID string,
) (gjson.Result, error) {
	logger := logr.FromContextOrDiscard(ctx)

	_, body, err := client.Get(ctx, path, query)
	if err != nil {
		if syncerr.IsNotFound(err) && parent != "" {
			return gjson.Result{}, &syncerr.NotFoundError{Resource: parent, ID: parentID}
		}
		return gjson.Result{}, fmt.Errorf("failed to list %s: %w", path, err)
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("failed to list %s: response is not valid JSON", path)
	}

	logger.V(1).Info("Listed upstream resources", "path", path, "bytes", len(body))
	return gjson.ParseBytes(body), nil
}

// firstString returns the first non-empty string among the given paths of r
func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}

// parseTime accepts RFC3339 timestamps and returns the zero time otherwise
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func single(key, value string) url.Values {
	return url.Values{key: []string{value}}
}
