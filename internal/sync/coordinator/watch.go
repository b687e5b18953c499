package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/stacklok/bimsync/internal/config"
	"github.com/stacklok/bimsync/internal/sources"
	pkgsync "github.com/stacklok/bimsync/internal/sync"
)

// Watch is an item the coordinator keeps in sync
type Watch struct {
	// Name is the configured source name
	Name            string
	Source          sources.ExternalSource
	ItemID          string
	RecheckInterval time.Duration
}

func (w Watch) key() string {
	return w.Source.Key() + "|" + w.ItemID
}

func (w Watch) String() string {
	return w.Name + "/" + w.ItemID
}

// WatchesFromConfig resolves the configured watches against their sources
func WatchesFromConfig(cfg *config.Config) ([]Watch, error) {
	watches := make([]Watch, 0, len(cfg.Watches))
	for i := range cfg.Watches {
		wc := &cfg.Watches[i]
		src, err := cfg.Source(wc.Source)
		if err != nil {
			return nil, fmt.Errorf("watches[%d]: %w", i, err)
		}
		ext, err := src.ExternalSource()
		if err != nil {
			return nil, fmt.Errorf("watches[%d]: %w", i, err)
		}
		watches = append(watches, Watch{
			Name:            wc.Source,
			Source:          ext,
			ItemID:          wc.ItemID,
			RecheckInterval: wc.GetRecheckInterval(),
		})
	}
	return watches, nil
}

// orchestratorStarter adapts an Orchestrator to SessionStarter
type orchestratorStarter struct {
	o *pkgsync.Orchestrator
}

// NewSessionStarter returns a SessionStarter backed by o
func NewSessionStarter(o *pkgsync.Orchestrator) SessionStarter {
	return orchestratorStarter{o: o}
}

func (s orchestratorStarter) BeginSync(ctx context.Context, req pkgsync.Request) (Session, error) {
	h, err := s.o.BeginSync(ctx, req)
	if err != nil {
		return nil, err
	}
	return h, nil
}
