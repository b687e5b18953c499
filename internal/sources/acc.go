package sources

import (
	"context"

	"github.com/tidwall/gjson"
)

// processStateComplete is the ACC extension state of a fully processed version
const processStateComplete = "PROCESSING_COMPLETE"

// ACCDiscovery lists resources of the construction-cloud API.
// Responses are JSON:API documents: {"data":[{"id","type","attributes":{...}}]}.
type ACCDiscovery struct {
	client Getter
}

var _ Discovery = (*ACCDiscovery)(nil)

// NewACCDiscovery creates an ACC adapter around a scoped client
func NewACCDiscovery(client Getter) *ACCDiscovery {
	return &ACCDiscovery{client: client}
}

// ListAccounts lists the accounts visible to the credential
func (d *ACCDiscovery) ListAccounts(ctx context.Context) ([]ResourceRef, error) {
	doc, err := fetchDocument(ctx, d.client, "/accounts", nil, "", "")
	if err != nil {
		return nil, err
	}
	return accRefs(doc), nil
}

// ListHubs lists the hubs of an account
func (d *ACCDiscovery) ListHubs(ctx context.Context, accountID string) ([]ResourceRef, error) {
	doc, err := fetchDocument(ctx, d.client, "/hubs", single("account", accountID), "account", accountID)
	if err != nil {
		return nil, err
	}
	return accRefs(doc), nil
}

// ListProjects lists the projects of a hub
func (d *ACCDiscovery) ListProjects(ctx context.Context, hubID string) ([]ResourceRef, error) {
	doc, err := fetchDocument(ctx, d.client, "/projects", single("hub", hubID), "hub", hubID)
	if err != nil {
		return nil, err
	}
	return accRefs(doc), nil
}

// ListItems lists the items of a project
func (d *ACCDiscovery) ListItems(ctx context.Context, projectID string) ([]ResourceRef, error) {
	doc, err := fetchDocument(ctx, d.client, "/items", single("project", projectID), "project", projectID)
	if err != nil {
		return nil, err
	}
	return accRefs(doc), nil
}

// ListVersions lists the versions of an item, newest first as upstream returns them
func (d *ACCDiscovery) ListVersions(ctx context.Context, itemID string) ([]Version, error) {
	doc, err := fetchDocument(ctx, d.client, "/versions", single("item", itemID), "item", itemID)
	if err != nil {
		return nil, err
	}

	data := doc.Get("data").Array()
	versions := make([]Version, 0, len(data))
	for _, r := range data {
		versions = append(versions, accVersion(r))
	}
	return versions, nil
}

func accRefs(doc gjson.Result) []ResourceRef {
	data := doc.Get("data").Array()
	refs := make([]ResourceRef, 0, len(data))
	for _, r := range data {
		refs = append(refs, accRef(r))
	}
	return refs
}

func accRef(r gjson.Result) ResourceRef {
	id := r.Get("id").String()
	name := firstString(r, "attributes.displayName", "attributes.name")
	if name == "" {
		name = id
	}
	return ResourceRef{ID: id, DisplayName: name}
}

func accVersion(r gjson.Result) Version {
	status := VersionPublished
	if state := r.Get("attributes.extension.data.processState").String(); state != "" && state != processStateComplete {
		status = VersionDraft
	}
	return Version{
		ResourceRef: accRef(r),
		URN:         r.Get("id").String(),
		Status:      status,
		Number:      int(r.Get("attributes.versionNumber").Int()),
		CreatedAt:   parseTime(firstString(r, "attributes.createTime", "attributes.createdAt")),
	}
}
