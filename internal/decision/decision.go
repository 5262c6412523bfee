// Package decision implements the decision service (C6, spec.md §4.2): the
// per-request mapping from (site, branch, client IP) to a redirect URL.
// Grounded directly on original_source/src/web.rs's update_check handler,
// generalised from an inline actix-web handler into a standalone,
// independently testable service.
package decision

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freifunk-updates/meshupd/internal/metrics"
	"github.com/freifunk-updates/meshupd/internal/policy"
	"github.com/freifunk-updates/meshupd/internal/site"
	"github.com/freifunk-updates/meshupd/internal/state"
)

// ErrSiteNotFound is returned when neither (site, "any") nor (site, branch)
// names a configured site (spec.md §4.2 step 1 / §7, unknown (site, branch)
// → 404).
var ErrSiteNotFound = fmt.Errorf("decision: site not found")

// SiteLookup resolves a (site, branch) pair to a runtime Site, trying the
// "any" branch first. internal/orchestrator implements this over its site
// map; keeping it as an interface here lets internal/decision be tested
// without constructing a full orchestrator.
type SiteLookup interface {
	Lookup(site, branch string) (*site.Site, bool)
}

// Result is the outcome of one decision, returned for the HTTP edge to
// frame as a redirect and for logging/metrics.
type Result struct {
	RedirectBase string
	ShouldUpdate bool
}

// Service implements spec.md §4.2's decide operation.
type Service struct {
	Sites   SiteLookup
	Metrics *metrics.Registry
	Log     *logrus.Logger
}

// Decide runs the six-step algorithm of spec.md §4.2.
func (s *Service) Decide(siteName, branch string, clientIP netip.Addr, now time.Time) (Result, error) {
	st, ok := s.Sites.Lookup(siteName, branch)
	if !ok {
		return Result{}, ErrSiteNotFound
	}

	g := st.Graph()
	cfg := st.Config

	log := logrus.NewEntry(s.Log).WithFields(logrus.Fields{"site": cfg.Name, "branch": cfg.Branch})

	shouldUpdate := false
	result := "noupdate"

	switch {
	case !cfg.Enabled:
		shouldUpdate = false
	case g == nil:
		shouldUpdate = cfg.UpdateDefault
		result = "unknown_client"
	default:
		idx, found := g.LookupAddress(clientIP)
		if !found {
			shouldUpdate = cfg.UpdateDefault
			result = "unknown_client"
			break
		}
		switch g.Policy(idx) {
		case policy.PolicyReady:
			shouldUpdate = true
			result = "update"
			node := g.Node(idx)
			log.WithField("host", node.Hostname).Info("decision: node not updated, pushing update")
			st.Persistent(func(ps *state.PersistentState) {
				ps.RecordDelivery(node.ID, now)
			})
			st.RequestSave()
		case policy.PolicyFinished:
			shouldUpdate = true
			result = "update"
			log.WithField("host", g.Node(idx).Hostname).Info("decision: node already on latest")
		case policy.PolicyPending:
			shouldUpdate = false
			log.WithField("host", g.Node(idx).Hostname).Info("decision: node not yet ready to update")
		case policy.PolicyBroken:
			shouldUpdate = true
			result = "update"
			log.WithField("host", g.Node(idx).Hostname).Info("decision: node marked broken, retrying anyway")
		}
	}

	if s.Metrics != nil {
		s.Metrics.Decisions.WithLabelValues(cfg.Name, cfg.Branch, result).Inc()
	}

	base := cfg.OnNoupdate
	if shouldUpdate && !cfg.DryRun {
		base = cfg.OnUpdate
	}
	return Result{RedirectBase: base, ShouldUpdate: shouldUpdate}, nil
}
