// Package orchestrator implements C7 (spec.md §4.4): it owns the set of
// configured sites, spawns their refresher/persister goroutines, performs
// the mandatory initial synchronous build per site, runs the status
// aggregator, and signals readiness to the service manager. Grounded on
// original_source/src/main.rs's site-map-plus-task::spawn-plus-sd_notify
// shape, with golang.org/x/sync/errgroup in place of the Rust runtime's
// implicit task supervision.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/freifunk-updates/meshupd/internal/config"
	"github.com/freifunk-updates/meshupd/internal/metrics"
	"github.com/freifunk-updates/meshupd/internal/policy"
	"github.com/freifunk-updates/meshupd/internal/site"
)

// Orchestrator owns every configured site and the background goroutines
// that keep them live.
type Orchestrator struct {
	sites   map[[2]string]*site.Site
	log     *logrus.Logger
	metrics *metrics.Registry
}

// New constructs an Orchestrator and, for every site, loads its persistent
// state from disk (site.New already does this).
func New(cfg *config.Config, log *logrus.Logger, reg *metrics.Registry) (*Orchestrator, error) {
	o := &Orchestrator{
		sites:   make(map[[2]string]*site.Site),
		log:     log,
		metrics: reg,
	}

	for _, sc := range cfg.Sites {
		entry := logrus.NewEntry(log).WithFields(logrus.Fields{"site": sc.Name, "branch": sc.Branch})
		s, err := site.New(sc, entry, reg)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: preparing site %s/%s: %w", sc.Name, sc.Branch, err)
		}
		o.sites[[2]string{sc.Name, sc.Branch}] = s
	}

	return o, nil
}

// Sites implements diagnostics.SiteLister; Lookup below implements
// decision.SiteLookup.
func (o *Orchestrator) Sites() map[[2]string]*site.Site { return o.sites }

// Lookup resolves (site, branch), preferring a configured "any" branch
// (spec.md §4.2 step 1).
func (o *Orchestrator) Lookup(siteName, branch string) (*site.Site, bool) {
	if s, ok := o.sites[[2]string{siteName, "any"}]; ok {
		return s, true
	}
	s, ok := o.sites[[2]string{siteName, branch}]
	return s, ok
}

// InitialBuildAll performs the mandatory synchronous first build for every
// site (spec.md §4.4). The caller must treat any error as fatal: "the
// system refuses to start with an empty site" (spec.md §7).
func (o *Orchestrator) InitialBuildAll(ctx context.Context) error {
	for key, s := range o.sites {
		o.log.WithFields(logrus.Fields{"site": key[0], "branch": key[1]}).Info("orchestrator: performing initial graph build")
		if err := s.InitialBuild(ctx); err != nil {
			return fmt.Errorf("orchestrator: initial build failed for %s/%s: %w", key[0], key[1], err)
		}
	}
	return nil
}

// Run spawns the refresher and persister goroutines for every site plus the
// status aggregator, and blocks until ctx is cancelled or one of them
// returns an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	fanIn := make(chan struct{}, len(o.sites)*2+1)
	for _, s := range o.sites {
		s := s
		g.Go(func() error { return s.RunRefresher(ctx) })
		g.Go(func() error { return s.RunPersister(ctx) })
		g.Go(func() error { return forwardPublished(ctx, s, fanIn) })
	}
	g.Go(func() error { return o.runStatusAggregator(ctx, fanIn) })

	return g.Wait()
}

func forwardPublished(ctx context.Context, s *site.Site, fanIn chan<- struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Published():
			select {
			case fanIn <- struct{}{}:
			default:
			}
		}
	}
}

// runStatusAggregator implements spec.md §4.4's status line and forwards it
// to the service manager, mirroring original_source/src/main.rs's
// push_state_to_systemd_task.
func (o *Orchestrator) runStatusAggregator(ctx context.Context, fanIn <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fanIn:
			status := o.statusLine()
			o.log.WithField("status", status).Debug("orchestrator: status update")
			if _, err := daemon.SdNotify(false, "STATUS="+status); err != nil {
				o.log.WithError(err).Warn("orchestrator: failed to notify service manager of status")
			}
		}
	}
}

func (o *Orchestrator) statusLine() string {
	var parts []string
	for key, s := range o.sites {
		g := s.Graph()
		if g == nil {
			continue
		}
		var migrated, cleared, pending int
		for i := 0; i < g.NodeCount(); i++ {
			switch g.Policy(i) {
			case policy.PolicyFinished:
				migrated++
			case policy.PolicyReady:
				cleared++
			case policy.PolicyPending:
				pending++
			}
		}
		parts = append(parts, fmt.Sprintf("%s/%s: %d/%d/%d/%d", key[0], key[1], migrated, cleared, pending, g.NodeCount()))
	}
	return strings.Join(parts, ", ") + " migrated/cleared/pending/total"
}

// NotifyReady signals the service manager that startup is complete (spec.md
// §4.4, after every site has completed its initial build).
func NotifyReady() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	return err
}
