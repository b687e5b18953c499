package sources

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// CollabDiscovery lists resources of the collaboration service.
// Responses are {"items":[...]}: workspaces, projects, streams and commits.
type CollabDiscovery struct {
	client Getter
}

var _ Discovery = (*CollabDiscovery)(nil)

// NewCollabDiscovery creates a Collab adapter around a scoped client
func NewCollabDiscovery(client Getter) *CollabDiscovery {
	return &CollabDiscovery{client: client}
}

// ListAccounts lists the accounts (servers) visible to the credential
func (d *CollabDiscovery) ListAccounts(ctx context.Context) ([]ResourceRef, error) {
	doc, err := fetchDocument(ctx, d.client, "/accounts", nil, "", "")
	if err != nil {
		return nil, err
	}
	return collabRefs(doc), nil
}

// ListHubs lists the workspaces of an account
func (d *CollabDiscovery) ListHubs(ctx context.Context, accountID string) ([]ResourceRef, error) {
	doc, err := fetchDocument(ctx, d.client, "/hubs", single("account", accountID), "account", accountID)
	if err != nil {
		return nil, err
	}
	return collabRefs(doc), nil
}

// ListProjects lists the projects of a workspace
func (d *CollabDiscovery) ListProjects(ctx context.Context, hubID string) ([]ResourceRef, error) {
	doc, err := fetchDocument(ctx, d.client, "/projects", single("hub", hubID), "workspace", hubID)
	if err != nil {
		return nil, err
	}
	return collabRefs(doc), nil
}

// ListItems lists the model streams of a project
func (d *CollabDiscovery) ListItems(ctx context.Context, projectID string) ([]ResourceRef, error) {
	doc, err := fetchDocument(ctx, d.client, "/items", single("project", projectID), "project", projectID)
	if err != nil {
		return nil, err
	}
	return collabRefs(doc), nil
}

// ListVersions lists the commits of a stream in upstream order
func (d *CollabDiscovery) ListVersions(ctx context.Context, itemID string) ([]Version, error) {
	doc, err := fetchDocument(ctx, d.client, "/versions", single("item", itemID), "stream", itemID)
	if err != nil {
		return nil, err
	}

	items := doc.Get("items").Array()
	versions := make([]Version, 0, len(items))
	for _, r := range items {
		versions = append(versions, collabVersion(r))
	}
	return versions, nil
}

// ParseCollabVersion decodes one commit object, as found in listings and push events
func ParseCollabVersion(raw []byte) (Version, error) {
	if !gjson.ValidBytes(raw) {
		return Version{}, fmt.Errorf("commit payload is not valid JSON")
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return Version{}, fmt.Errorf("commit payload is not an object")
	}
	v := collabVersion(r)
	if v.ID == "" || v.URN == "" {
		return Version{}, fmt.Errorf("commit payload has no id")
	}
	return v, nil
}

func collabRefs(doc gjson.Result) []ResourceRef {
	items := doc.Get("items").Array()
	refs := make([]ResourceRef, 0, len(items))
	for _, r := range items {
		id := r.Get("id").String()
		name := firstString(r, "name", "displayName")
		if name == "" {
			name = id
		}
		refs = append(refs, ResourceRef{ID: id, DisplayName: name})
	}
	return refs
}

func collabVersion(r gjson.Result) Version {
	id := r.Get("id").String()
	name := firstString(r, "message", "name")
	if name == "" {
		name = id
	}
	// the referenced object hash is the content address of the commit
	urn := firstString(r, "referencedObject", "id")

	status := VersionPublished
	if VersionStatus(r.Get("status").String()) == VersionDraft {
		status = VersionDraft
	}

	return Version{
		ResourceRef: ResourceRef{ID: id, DisplayName: name},
		URN:         urn,
		Status:      status,
		CreatedAt:   parseTime(r.Get("createdAt").String()),
	}
}
