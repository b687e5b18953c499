package sources

import (
	"fmt"

	"github.com/stacklok/bimsync/internal/httpclient"
)

// defaultDiscoveryFactory is the default implementation of DiscoveryFactory
type defaultDiscoveryFactory struct {
	clientOpts []httpclient.ScopedOption
}

var _ DiscoveryFactory = (*defaultDiscoveryFactory)(nil)

// NewDiscoveryFactory creates a new discovery factory. The options are applied to
// every scoped client the factory builds.
func NewDiscoveryFactory(opts ...httpclient.ScopedOption) DiscoveryFactory {
	return &defaultDiscoveryFactory{clientOpts: opts}
}

// CreateDiscovery builds a fresh adapter around a client carrying exactly one credential
func (f *defaultDiscoveryFactory) CreateDiscovery(source ExternalSource, credential string) (Discovery, error) {
	if source.IsZero() {
		return nil, fmt.Errorf("source is required")
	}
	client := httpclient.NewScopedClient(source.BaseURL(), credential, f.clientOpts...)

	switch source.Kind() {
	case KindACC:
		return NewACCDiscovery(client), nil
	case KindCollab:
		return NewCollabDiscovery(client), nil
	default:
		return nil, fmt.Errorf("unsupported source kind: %s", source.Kind())
	}
}
