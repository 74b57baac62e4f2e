package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/loaders"
	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// AgentSource loads the active agents.
type AgentSource interface {
	LoadActiveAgents(ctx context.Context) ([]loaders.AgentRecord, error)
}

// AgentCatalog keeps the active agents in memory, keyed by identifier.
type AgentCatalog struct {
	source AgentSource

	mu     sync.RWMutex
	agents map[string]loaders.AgentRecord
	loaded time.Time

	// controls background refresh lifecycle
	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

func NewAgentCatalog(source AgentSource) *AgentCatalog {
	return &AgentCatalog{
		source: source,
		agents: make(map[string]loaders.AgentRecord),
	}
}

// Load replaces the cached agents with a fresh read.
func (c *AgentCatalog) Load(ctx context.Context) error {
	records, err := c.source.LoadActiveAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	tmp := make(map[string]loaders.AgentRecord, len(records))
	for _, r := range records {
		tmp[r.Identifier] = r
	}

	// Atomically replace the map
	c.mu.Lock()
	c.agents = tmp
	c.loaded = time.Now()
	c.mu.Unlock()

	utils.Zlog.Info("Agents loaded into memory", zap.Int("count", len(tmp)))
	return nil
}

func (c *AgentCatalog) Get(identifier string) (loaders.AgentRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.agents[identifier]
	return a, ok
}

// List returns the cached agents sorted by identifier.
func (c *AgentCatalog) List() []loaders.AgentRecord {
	c.mu.RLock()
	out := make([]loaders.AgentRecord, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// AgentNames lists the cached identifiers in sorted order.
func (c *AgentCatalog) AgentNames() []string {
	agents := c.List()
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Identifier
	}
	return names
}

func (c *AgentCatalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// StartAutoRefresh loads immediately and then every interval until
// StopAutoRefresh is called or ctx is cancelled. Calls while a refresher is
// running are no-ops.
func (c *AgentCatalog) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	c.mu.Lock()
	if c.refreshCancel != nil {
		// already running
		c.mu.Unlock()
		return
	}
	refreshCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.refreshCancel = cancel
	c.refreshDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)

		// initial load with timeout
		func() {
			loadCtx, loadCancel := context.WithTimeout(refreshCtx, 15*time.Second)
			defer loadCancel()
			if err := c.Load(loadCtx); err != nil {
				utils.Zlog.Warn("Agent catalog initial load failed", zap.Error(err))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				loadCtx, loadCancel := context.WithTimeout(refreshCtx, 15*time.Second)
				if err := c.Load(loadCtx); err != nil {
					utils.Zlog.Warn("Agent catalog periodic refresh failed", zap.Error(err))
				}
				loadCancel()
			}
		}
	}()
}

// StopAutoRefresh stops the background refresh goroutine if running.
func (c *AgentCatalog) StopAutoRefresh() {
	c.mu.Lock()
	cancel, done := c.refreshCancel, c.refreshDone
	c.refreshCancel = nil
	c.refreshDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
