// Package site implements the per-site runtime (C5, spec.md §4.3): the
// owned policy graph, persistent state, save channel, refresh loop, and
// persister goroutine. The lock discipline mirrors
// original_source/src/main.rs's SiteState (an RwLock graph plus a mutex
// persistent state reached through an Arc), translated into Go's
// sync.RWMutex/sync.Mutex and a buffered channel in place of the Rust
// mpsc::Sender<()> coalescing channel.
package site

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freifunk-updates/meshupd/internal/config"
	"github.com/freifunk-updates/meshupd/internal/meshinfo"
	"github.com/freifunk-updates/meshupd/internal/metrics"
	"github.com/freifunk-updates/meshupd/internal/policy"
	"github.com/freifunk-updates/meshupd/internal/state"
)

// saveChannelCapacity is the coalescing save-channel's bound (spec.md §5,
// "bounded, small capacity (≈8)").
const saveChannelCapacity = 8

// Site owns one (name, branch) site's runtime state: the current
// PolicyGraph behind a reader-writer lock, the PersistentState behind a
// plain mutex, and the save-channel the persister goroutine drains.
type Site struct {
	Config config.SiteConfig

	fetcher *meshinfo.Fetcher
	stateMu *state.Manager
	metrics *metrics.Registry
	log     *logrus.Entry

	graphMu sync.RWMutex
	graph   *policy.Graph

	persistMu  sync.Mutex
	persistent *state.PersistentState

	saveCh chan struct{}

	// published is signalled (non-blocking, same coalescing discipline as
	// saveCh) every time a new graph is published, for the orchestrator's
	// status aggregator to fan in on.
	published chan struct{}
}

// New constructs a Site, loading its persistent state from disk (absent →
// empty, spec.md §4.4).
func New(cfg config.SiteConfig, log *logrus.Entry, reg *metrics.Registry) (*Site, error) {
	mgr, err := state.NewManager(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	persistent, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	return &Site{
		Config:     cfg,
		fetcher:    meshinfo.NewFetcher(30 * time.Second),
		stateMu:    mgr,
		metrics:    reg,
		log:        log,
		persistent: persistent,
		saveCh:     make(chan struct{}, saveChannelCapacity),
		published:  make(chan struct{}, saveChannelCapacity),
	}, nil
}

// Published returns the channel the orchestrator's status aggregator
// fans in on.
func (s *Site) Published() <-chan struct{} { return s.published }

// Graph returns the currently published graph under a shared read lock.
// Callers must not retain the pointer across a refresh; reads should be
// done promptly within the caller's own critical section.
func (s *Site) Graph() *policy.Graph {
	s.graphMu.RLock()
	defer s.graphMu.RUnlock()
	return s.graph
}

// Persistent runs fn with the PersistentState locked. Used by the decision
// service to record a delivery; it signals the persister with RequestSave
// after the lock is released (spec.md §5, "holding it across a decision is
// acceptable because the critical section is O(1)").
func (s *Site) Persistent(fn func(*state.PersistentState)) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	fn(s.persistent)
}

// RequestSave signals the persister, dropping the signal if the channel is
// already full: a later signal covers whatever this one would have saved
// (spec.md §5, "coalescing signal, not a queue of writes").
func (s *Site) RequestSave() {
	select {
	case s.saveCh <- struct{}{}:
	default:
	}
}

func (s *Site) signalPublished() {
	select {
	case s.published <- struct{}{}:
	default:
	}
}

// InitialBuild performs the mandatory synchronous first build (spec.md
// §4.4, "performs an initial synchronous build per site before accepting
// traffic"). A failure here is fatal at the orchestrator level.
func (s *Site) InitialBuild(ctx context.Context) error {
	return s.refreshOnce(ctx, time.Now())
}

// refreshOnce fetches one snapshot and rebuilds the graph. Any fetch or
// decode error preserves the previous graph and is logged, never returned,
// except from InitialBuild's first call where the caller must treat it as
// fatal (spec.md §7).
func (s *Site) refreshOnce(ctx context.Context, now time.Time) error {
	start := time.Now()
	snapshot, err := s.fetcher.Fetch(ctx, s.Config.Meshinfo)
	if err != nil {
		s.log.WithError(err).Error("site: failed to refresh node graph")
		if s.metrics != nil {
			s.metrics.RefreshFailures.WithLabelValues(s.Config.Name, s.Config.Branch).Inc()
		}
		if s.graph == nil {
			return err
		}
		return nil
	}

	cfg := policy.Config{
		LatestVersion:       s.Config.LatestVersion,
		UpdateTimeout:       s.Config.UpdateTimeout(),
		BrokenThreshold:     s.Config.BrokenThreshold,
		IgnoreAutoupdateOff: s.Config.IgnoreAutoupdateOff,
		MaxNodeAge:          s.Config.MaxNodeAge(),
	}

	s.persistMu.Lock()
	g := policy.Build(snapshot, cfg, s.persistent, now, s.log)
	for _, u := range g.NewUplinks() {
		s.persistent.RememberUplink(u.ID, u.Uplink, now)
	}
	s.persistMu.Unlock()

	s.RequestSave()

	s.graphMu.Lock()
	s.graph = g
	s.graphMu.Unlock()

	if s.metrics != nil {
		s.metrics.RefreshDuration.WithLabelValues(s.Config.Name, s.Config.Branch).Observe(time.Since(start).Seconds())
		s.metrics.SetSiteNodeCounts(s.Config.Name, s.Config.Branch, policyCounts(g))
	}

	s.signalPublished()
	return nil
}

func policyCounts(g *policy.Graph) map[string]int {
	counts := map[string]int{"pending": 0, "ready": 0, "finished": 0, "broken": 0}
	for i := 0; i < g.NodeCount(); i++ {
		counts[g.Policy(i).String()]++
	}
	return counts
}

// RunRefresher is the per-site refresh loop (spec.md §4.3): sleep
// refresh_interval, fetch, rebuild, publish. Returns when ctx is cancelled.
func (s *Site) RunRefresher(ctx context.Context) error {
	ticker := time.NewTicker(s.Config.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.refreshOnce(ctx, time.Now()); err != nil {
				// refreshOnce only returns an error when no graph has ever
				// been published; InitialBuild already guarded against
				// starting the loop in that state, so this is defensive.
				s.log.WithError(err).Error("site: refresh failed with no prior graph to fall back on")
			}
		}
	}
}

// RunPersister is the per-site persistence writer (spec.md §4.3, "a
// dedicated task per site, blocking on the save-channel").
func (s *Site) RunPersister(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.saveCh:
			s.persistMu.Lock()
			err := s.stateMu.Save(s.persistent)
			s.persistMu.Unlock()

			if err != nil {
				s.log.WithError(err).Error("site: persistence write failed, will retry on next signal")
			}
		}
	}
}
