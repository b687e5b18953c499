// Package sources provides discovery of model resources held by external sources.
//
// Two source kinds are supported and they organise their data differently:
//
//   - ACC: an enterprise construction-cloud API speaking JSON:API documents
//     (account → hub → project → item → version).
//   - Collab: a model collaboration / version-control service
//     (account → workspace → project → stream → commit).
//
// Both are exposed through the Discovery interface so callers walk one
// hierarchy regardless of kind:
//
//   - Discovery: lists accounts, hubs, projects, items and versions
//   - DiscoveryFactory: builds a Discovery scoped to one source and credential
//   - ExternalSource: immutable identity of a source (kind, base URL, credential reference)
//
// Discovery never caches: upstream hierarchies change between calls and a stale
// listing would send a user to a deleted resource. Listings keep upstream order.
package sources
