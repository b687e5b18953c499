package translation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/bimsync/internal/sources"
)

// StatusKind is the normalised meaning of an upstream job status
type StatusKind int

const (
	// StatusProcessing means upstream is still working on the derivative
	StatusProcessing StatusKind = iota
	// StatusSuccess means the derivative is ready
	StatusSuccess
	// StatusFailure means upstream gave up on the derivative
	StatusFailure
)

func (k StatusKind) String() string {
	switch k {
	case StatusProcessing:
		return "processing"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// ParseStatus maps the upstream status vocabulary to a StatusKind.
// Unrecognised values are treated as still processing, so they end in a timeout
// rather than a false success.
func ParseStatus(s string) (StatusKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "inprogress", "processing":
		return StatusProcessing, true
	case "success", "complete":
		return StatusSuccess, true
	case "failed", "timeout":
		return StatusFailure, true
	default:
		return StatusProcessing, false
	}
}

// SubmitResult is the upstream answer to a start-translation call
type SubmitResult struct {
	// AlreadyTranslated is set when upstream reports the derivative exists
	AlreadyTranslated bool
	Manifest          *Manifest
}

// StatusResult is the upstream answer to a status poll
type StatusResult struct {
	Kind     StatusKind
	Message  string
	Manifest *Manifest
}

//go:generate mockgen -destination=mocks/mock_upstream.go -package=mocks -source=upstream.go Upstream

// Upstream is the translation service of a source
type Upstream interface {
	// Submit starts a translation. It is not idempotent and must not be retried.
	Submit(ctx context.Context, urn string) (SubmitResult, error)

	// Status reads the current state of a translation
	Status(ctx context.Context, urn string) (StatusResult, error)
}

// Client is the subset of httpclient.ScopedClient used by the HTTP upstream
type Client interface {
	sources.Getter
	Post(ctx context.Context, path string, body any) (int, []byte, error)
}

// httpUpstream talks to POST /translate and GET /translate/{urn}/status
type httpUpstream struct {
	client Client
}

// NewHTTPUpstream creates an Upstream over a scoped client
func NewHTTPUpstream(client Client) Upstream {
	return &httpUpstream{client: client}
}

func (u *httpUpstream) Submit(ctx context.Context, urn string) (SubmitResult, error) {
	status, body, err := u.client.Post(ctx, "/translate", map[string]string{"urn": urn})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to submit translation for %s: %w", urn, err)
	}
	if !gjson.ValidBytes(body) {
		// an accepted submission may come back with an empty body
		return SubmitResult{}, nil
	}

	doc := gjson.ParseBytes(body)
	result, _ := ParseStatus(doc.Get("result").String())
	if status == http.StatusOK && result == StatusSuccess {
		return SubmitResult{AlreadyTranslated: true, Manifest: parseManifest(urn, doc)}, nil
	}
	return SubmitResult{}, nil
}

func (u *httpUpstream) Status(ctx context.Context, urn string) (StatusResult, error) {
	_, body, err := u.client.Get(ctx, "/translate/"+url.PathEscape(urn)+"/status", nil)
	if err != nil {
		return StatusResult{}, fmt.Errorf("failed to read translation status for %s: %w", urn, err)
	}
	if !gjson.ValidBytes(body) {
		return StatusResult{}, fmt.Errorf("failed to read translation status for %s: response is not valid JSON", urn)
	}

	doc := gjson.ParseBytes(body)
	raw := doc.Get("status").String()
	kind, known := ParseStatus(raw)

	res := StatusResult{
		Kind:    kind,
		Message: doc.Get("message").String(),
	}
	if !known && res.Message == "" {
		res.Message = fmt.Sprintf("unrecognised status %q", raw)
	}
	if res.Message == "" {
		res.Message = doc.Get("progress").String()
	}
	if kind == StatusSuccess {
		res.Manifest = parseManifest(urn, doc)
	}
	return res, nil
}

func parseManifest(urn string, doc gjson.Result) *Manifest {
	m := &Manifest{URN: urn, Derivatives: []Derivative{}}
	if v := doc.Get("urn").String(); v != "" {
		m.URN = v
	}
	doc.Get("derivatives").ForEach(func(_, d gjson.Result) bool {
		m.Derivatives = append(m.Derivatives, Derivative{
			GUID:       d.Get("guid").String(),
			Name:       d.Get("name").String(),
			Role:       d.Get("role").String(),
			OutputType: d.Get("outputType").String(),
			Status:     d.Get("status").String(),
		})
		return true
	})
	return m
}
