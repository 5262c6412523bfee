// Package policy implements the graph builder (spec.md §4.1): the pure
// function that turns one mesh snapshot, a site's configuration, and its
// persistent state into an immutable PolicyGraph. The arena-plus-local-index
// shape mirrors the teacher's pkg/topology/topology.go node-list-plus-maps
// layout, generalised from a static cluster topology to a graph rebuilt
// wholesale on every refresh.
package policy

import (
	"net/netip"
	"time"

	"github.com/gaissmai/bart"
	"github.com/sirupsen/logrus"

	"github.com/freifunk-updates/meshupd/internal/fwversion"
	"github.com/freifunk-updates/meshupd/internal/meshinfo"
	"github.com/freifunk-updates/meshupd/internal/nodeid"
	"github.com/freifunk-updates/meshupd/internal/state"
)

// Policy is one of the four classification states a node can hold once a
// graph is published (spec.md §3). PolicyUnset only exists transiently
// during a build, between Pass 3 and Pass 5; no published graph entry ever
// carries it (invariant 1).
type Policy int

const (
	PolicyUnset Policy = iota
	PolicyPending
	PolicyReady
	PolicyFinished
	PolicyBroken
)

func (p Policy) String() string {
	switch p {
	case PolicyPending:
		return "pending"
	case PolicyReady:
		return "ready"
	case PolicyFinished:
		return "finished"
	case PolicyBroken:
		return "broken"
	default:
		return "unset"
	}
}

// Node is one arena entry. Fields are copied out of the snapshot at intake
// time; the graph never holds a reference back into the meshinfo.Snapshot it
// was built from.
type Node struct {
	ID                 nodeid.ID
	Hostname           string
	Online             bool
	FirmwareRelease    string
	AutoupdaterEnabled bool
	Addresses          []string
}

// Graph is the PolicyGraph of spec.md §3: a dense arena plus local-index
// edges valid only for this build. Cross-build identity is carried by
// nodeid.ID, never by index.
type Graph struct {
	nodes     []Node
	byID      map[nodeid.ID]int
	byAddress *bart.Table[int]
	uplink    []int // -1 means absent (root)
	downlink  [][]int
	depth     []int
	policy    []Policy

	maxDepth     int
	deepestIndex int

	// newUplinks holds (id, uplinkID) pairs discovered during link
	// resolution. Build itself never writes to PersistentState.LinkHistory
	// (the builder's only permitted state mutations are the two named in
	// spec.md §4.1); the caller applies these after Build returns.
	newUplinks []newUplink
}

type newUplink struct {
	id     nodeid.ID
	uplink nodeid.ID
}

// NewUplinks reports every (id, uplink) pair resolved during this build, so
// the caller can record state.PersistentState.RememberUplink for each, which
// is exactly the "after the builder returns, the caller records
// link_history" step spec.md §4.1 assigns outside the builder.
func (g *Graph) NewUplinks() []struct {
	ID     nodeid.ID
	Uplink nodeid.ID
} {
	out := make([]struct {
		ID     nodeid.ID
		Uplink nodeid.ID
	}, len(g.newUplinks))
	for i, u := range g.newUplinks {
		out[i] = struct {
			ID     nodeid.ID
			Uplink nodeid.ID
		}{ID: u.id, Uplink: u.uplink}
	}
	return out
}

// NodeCount returns the number of arena entries in the published graph.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Node returns the arena entry at local index i.
func (g *Graph) Node(i int) Node { return g.nodes[i] }

// Policy returns the classification of the node at local index i.
func (g *Graph) Policy(i int) Policy { return g.policy[i] }

// Depth returns the depth of the node at local index i.
func (g *Graph) Depth(i int) int { return g.depth[i] }

// Downlinks returns the local indices naming i as their uplink.
func (g *Graph) Downlinks(i int) []int { return g.downlink[i] }

// MaxDepth and DeepestIndex are memoised diagnostics (spec.md §3).
func (g *Graph) MaxDepth() int     { return g.maxDepth }
func (g *Graph) DeepestIndex() int { return g.deepestIndex }

// Lookup resolves a NodeId to its local index in this graph.
func (g *Graph) Lookup(id nodeid.ID) (int, bool) {
	i, ok := g.byID[id]
	return i, ok
}

// LookupAddress resolves a client address to its local index via the
// by_address exact-match index.
func (g *Graph) LookupAddress(addr netip.Addr) (int, bool) {
	return g.byAddress.Lookup(addr)
}

// Config is the subset of a site's configuration the builder needs. It is
// its own type, rather than a reuse of config.SiteConfig, so internal/policy
// never imports internal/config (config parses text, policy builds graphs,
// and keeping them independent means either can change shape without forcing
// a recompile of the other, the same separation the teacher keeps between
// pkg/topology and pkg/upgrade).
type Config struct {
	LatestVersion       string
	UpdateTimeout       time.Duration
	BrokenThreshold     uint32
	IgnoreAutoupdateOff bool
	MaxNodeAge          time.Duration
}

// Build runs all five passes of spec.md §4.1 and returns the resulting
// graph. now is passed in explicitly (rather than read via time.Now) so
// tests can drive the timeout passes deterministically. persistent is
// mutated in exactly the two places spec.md §4.1 permits: update_attempts
// incremented and update_received cleared on a confirmed timeout failure.
func Build(snapshot *meshinfo.Snapshot, cfg Config, persistent *state.PersistentState, now time.Time, log *logrus.Entry) *Graph {
	g := &Graph{
		byID:      make(map[nodeid.ID]int),
		byAddress: &bart.Table[int]{},
	}

	type intakeRecord struct {
		nexthopText *string
	}
	var pending []intakeRecord

	// Pass 1: intake.
	for _, n := range snapshot.Nodes {
		if cfg.MaxNodeAge > 0 && now.Sub(n.LastSeen) > cfg.MaxNodeAge {
			if log != nil {
				log.WithField("node", n.NodeID).Debug("policy: dropping stale node at intake")
			}
			continue
		}

		idx := len(g.nodes)
		g.nodes = append(g.nodes, Node{
			ID:                 n.NodeID,
			Hostname:           n.Hostname,
			Online:             n.IsOnline,
			FirmwareRelease:    n.Firmware.Release,
			AutoupdaterEnabled: n.Autoupdater.Enabled,
			Addresses:          n.Addresses,
		})
		g.byID[n.NodeID] = idx

		for _, a := range n.Addresses {
			addr, err := netip.ParseAddr(a)
			if err != nil {
				if log != nil {
					log.WithField("node", n.NodeID).WithField("address", a).Warn("policy: unparseable node address, skipping")
				}
				continue
			}
			g.byAddress.Insert(netip.PrefixFrom(addr, addr.BitLen()), idx)
		}

		nexthop := n.GatewayNexthop
		if nexthop != nil && nodeid.LooksLikeMAC(*nexthop) {
			// Recovery case: some firmware puts the uplink's MAC address
			// here instead of its NodeId. Parse it to confirm the shape and
			// surface the recovered hardware address in the log, then fall
			// back to the gateway field, which may itself be absent.
			if mac, err := nodeid.ParseMAC(*nexthop); err == nil && log != nil {
				log.WithField("node", n.NodeID).WithField("mac", mac).
					Debug("policy: gateway_nexthop held a MAC address instead of a node id")
			}
			nexthop = n.Gateway
		}
		pending = append(pending, intakeRecord{nexthopText: nexthop})
	}

	n := len(g.nodes)
	g.uplink = make([]int, n)
	for i := range g.uplink {
		g.uplink[i] = -1
	}
	g.downlink = make([][]int, n)
	g.depth = make([]int, n)
	for i := range g.depth {
		g.depth[i] = -1
	}
	g.policy = make([]Policy, n)

	// Pass 2: link resolution.
	for idx, rec := range pending {
		text := rec.nexthopText
		if text == nil {
			if link, ok := persistent.LinkHistory[g.nodes[idx].ID]; ok {
				s := link.Uplink.String()
				text = &s
			}
		}
		if text == nil {
			continue
		}

		resolved, err := nodeid.Parse(*text)
		if err != nil {
			if log != nil {
				log.WithField("node", g.nodes[idx].ID).WithField("nexthop", *text).Debug("policy: unresolvable nexthop text, node becomes a root")
			}
			continue
		}
		uIdx, ok := g.byID[resolved]
		if !ok {
			continue
		}
		g.uplink[idx] = uIdx
		g.downlink[uIdx] = append(g.downlink[uIdx], idx)
		g.newUplinks = append(g.newUplinks, newUplink{id: g.nodes[idx].ID, uplink: resolved})
	}

	// Pass 3: timeout reconciliation. Mutates persistent state.
	for id, ns := range persistent.NodeState {
		idx, ok := g.byID[id]
		if !ok {
			continue
		}
		node := g.nodes[idx]

		switch {
		case ns.UpdateReceived != nil && now.Sub(*ns.UpdateReceived) > cfg.UpdateTimeout:
			switch {
			case node.Online && node.FirmwareRelease != cfg.LatestVersion:
				ns.UpdateReceived = nil
				ns.UpdateAttempts++
				if ns.UpdateAttempts >= cfg.BrokenThreshold {
					g.policy[idx] = PolicyBroken
				} else {
					g.policy[idx] = PolicyReady
				}
			case node.Online && node.FirmwareRelease == cfg.LatestVersion:
				// Leave unset; Pass 5 assigns Finished.
			case !node.Online:
				g.policy[idx] = PolicyFinished
			}
		case ns.UpdateReceived == nil && ns.UpdateAttempts >= cfg.BrokenThreshold:
			g.policy[idx] = PolicyBroken
		}
	}

	// Pass 4: depth assignment, iterative settle bounded by node count.
	remaining := n
	for i := 0; i < n && remaining > 0; i++ {
		progressed := false
		for idx := 0; idx < n; idx++ {
			if g.depth[idx] != -1 {
				continue
			}
			up := g.uplink[idx]
			if up == -1 {
				g.depth[idx] = 0
				remaining--
				progressed = true
				continue
			}
			if g.depth[up] != -1 {
				g.depth[idx] = g.depth[up] + 1
				remaining--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	if remaining > 0 {
		// Pathological cycle: bound was hit without settling every node.
		// Drop the offending uplink edges so depth can be finalised, and
		// record a warning; this should never happen for well-formed
		// snapshots (each node has at most one uplink and MAC recovery
		// cannot introduce new cycles).
		if log != nil {
			log.WithField("unsettled", remaining).Warn("policy: depth settle did not converge, dropping remaining uplink edges")
		}
		for idx := 0; idx < n; idx++ {
			if g.depth[idx] == -1 {
				if up := g.uplink[idx]; up != -1 {
					g.downlink[up] = removeIndex(g.downlink[up], idx)
				}
				g.uplink[idx] = -1
				g.depth[idx] = 0
			}
		}
	}

	for idx := 0; idx < n; idx++ {
		if g.depth[idx] > g.maxDepth {
			g.maxDepth = g.depth[idx]
			g.deepestIndex = idx
		}
	}

	// Pass 5: dependency-driven classification.
	for idx := 0; idx < n; idx++ {
		if g.policy[idx] != PolicyUnset {
			continue
		}
		node := g.nodes[idx]
		if node.FirmwareRelease == cfg.LatestVersion {
			g.policy[idx] = PolicyFinished
			continue
		}

		g.policy[idx] = PolicyReady
		for _, d := range g.downlink[idx] {
			p := g.policy[d]
			down := g.nodes[d]
			if p == PolicyFinished || p == PolicyBroken {
				if p == PolicyFinished && down.FirmwareRelease != cfg.LatestVersion && log != nil {
					if fwversion.Regressed(cfg.LatestVersion, down.FirmwareRelease) {
						log.WithField("node", down.ID).WithField("firmware", down.FirmwareRelease).
							Warn("policy: downlink already Finished despite non-latest firmware, treating as not-blocking per design")
					}
				}
				continue
			}
			if down.FirmwareRelease != cfg.LatestVersion && (down.AutoupdaterEnabled || !cfg.IgnoreAutoupdateOff) {
				g.policy[idx] = PolicyPending
				break
			}
		}
	}

	return g
}

func removeIndex(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
