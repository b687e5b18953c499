package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/bimsync/internal/syncerr"
)

// Kind identifies which adapter serves a source
type Kind string

const (
	// KindACC is the enterprise construction-cloud API
	KindACC Kind = "acc"

	// KindCollab is the model collaboration / version-control service
	KindCollab Kind = "collab"
)

// ParseKind converts a configuration string to a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindACC:
		return KindACC, nil
	case KindCollab:
		return KindCollab, nil
	default:
		return "", fmt.Errorf("unsupported source kind: %q", s)
	}
}

// ExternalSource identifies which adapter and which credential scope to use.
// It is immutable once constructed.
type ExternalSource struct {
	kind          Kind
	baseURL       string
	credentialRef string
}

// NewExternalSource validates and builds an ExternalSource
func NewExternalSource(kind Kind, baseURL, credentialRef string) (ExternalSource, error) {
	if kind != KindACC && kind != KindCollab {
		return ExternalSource{}, fmt.Errorf("unsupported source kind: %q", kind)
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ExternalSource{}, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ExternalSource{}, fmt.Errorf("base URL %q must use http or https", baseURL)
	}
	return ExternalSource{
		kind:          kind,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		credentialRef: credentialRef,
	}, nil
}

// Kind returns the source kind
func (s ExternalSource) Kind() Kind { return s.kind }

// BaseURL returns the source base URL without a trailing slash
func (s ExternalSource) BaseURL() string { return s.baseURL }

// CredentialRef returns the caller-side reference of the credential scope
func (s ExternalSource) CredentialRef() string { return s.credentialRef }

// Key returns the identity used by registries keyed on a source
func (s ExternalSource) Key() string {
	return string(s.kind) + "|" + s.baseURL
}

// IsZero reports whether s was never initialised
func (s ExternalSource) IsZero() bool {
	return s.kind == "" && s.baseURL == ""
}

func (s ExternalSource) String() string {
	return fmt.Sprintf("%s(%s)", s.kind, s.baseURL)
}

// MarshalJSON renders the source for status output
func (s ExternalSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind          Kind   `json:"kind"`
		BaseURL       string `json:"baseUrl"`
		CredentialRef string `json:"credentialRef,omitempty"`
	}{s.kind, s.baseURL, s.credentialRef})
}

// ResourceRef is an opaque upstream identifier plus a display name
type ResourceRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// VersionStatus is the publication state of a version
type VersionStatus string

const (
	// VersionDraft is a version not yet published upstream
	VersionDraft VersionStatus = "draft"

	// VersionPublished is a published version
	VersionPublished VersionStatus = "published"
)

// Version is a specific version of an item
type Version struct {
	ResourceRef
	// URN is the source's content-addressable identifier of the version
	URN       string        `json:"urn"`
	Status    VersionStatus `json:"status"`
	Number    int           `json:"number,omitempty"`
	CreatedAt time.Time     `json:"createdAt,omitempty"`
}

//go:generate mockgen -destination=mocks/mock_discovery.go -package=mocks -source=types.go Discovery,DiscoveryFactory

// Discovery walks one source's resource hierarchy.
// Every method fails with *syncerr.AuthError, *syncerr.NotFoundError or
// *syncerr.TransientNetworkError (possibly wrapped).
type Discovery interface {
	// ListAccounts lists the accounts visible to the credential
	ListAccounts(ctx context.Context) ([]ResourceRef, error)

	// ListHubs lists hubs (workspaces) of an account
	ListHubs(ctx context.Context, accountID string) ([]ResourceRef, error)

	// ListProjects lists projects of a hub
	ListProjects(ctx context.Context, hubID string) ([]ResourceRef, error)

	// ListItems lists items (models, streams) of a project
	ListItems(ctx context.Context, projectID string) ([]ResourceRef, error)

	// ListVersions lists versions of an item, in upstream order
	ListVersions(ctx context.Context, itemID string) ([]Version, error)
}

// DiscoveryFactory creates discovery adapters scoped to one source and credential
type DiscoveryFactory interface {
	// CreateDiscovery creates the adapter for the source kind
	CreateDiscovery(source ExternalSource, credential string) (Discovery, error)
}

// LatestVersion picks the first published version in upstream order, falling back
// to the first version when none is published. Adapters return newest first.
func LatestVersion(itemID string, versions []Version) (Version, error) {
	if len(versions) == 0 {
		return Version{}, &syncerr.NotFoundError{Resource: "version of item", ID: itemID}
	}
	for _, v := range versions {
		if v.Status == VersionPublished {
			return v, nil
		}
	}
	return versions[0], nil
}
