// Package diagnostics implements the read-only projection served at
// GET /node_dump.json (C8, spec.md §4.5), grounded directly on
// original_source/src/dump.rs's generate function: the same five buckets,
// the same Ready-split-by-fail-count rule, and the same "{site}_{branch}"
// key shape.
package diagnostics

import (
	"time"

	"github.com/freifunk-updates/meshupd/internal/nodeid"
	"github.com/freifunk-updates/meshupd/internal/policy"
	"github.com/freifunk-updates/meshupd/internal/site"
	"github.com/freifunk-updates/meshupd/internal/state"
)

// NodeInfo is one entry in a SiteDump bucket.
type NodeInfo struct {
	ID              nodeid.ID  `json:"id"`
	Hostname        string     `json:"hostname"`
	UpdateFailCount uint32     `json:"update_fail_count"`
	UpdatedAt       *time.Time `json:"updated_at"`
}

// SiteDump is the five-bucket projection for one site/branch, plus the
// per-site counts spec.md §4.5 requires alongside the bucket arrays.
type SiteDump struct {
	Updated   []NodeInfo `json:"updated"`
	Pending   []NodeInfo `json:"pending"`
	Failed    []NodeInfo `json:"failed"`
	Scheduled []NodeInfo `json:"scheduled"`
	Broken    []NodeInfo `json:"broken"`
	Counts    Counts     `json:"counts"`
}

// Counts summarises a SiteDump's bucket sizes so a caller doesn't have to
// count array lengths itself.
type Counts struct {
	Updated   int `json:"updated"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
	Scheduled int `json:"scheduled"`
	Broken    int `json:"broken"`
	Total     int `json:"total"`
}

// SiteLister is implemented by internal/orchestrator: the full (name,
// branch) -> Site map this projection iterates.
type SiteLister interface {
	Sites() map[[2]string]*site.Site
}

// Generate produces the full node-dump document: one SiteDump per
// configured site, keyed "{site}_{branch}".
func Generate(lister SiteLister) map[string]SiteDump {
	out := make(map[string]SiteDump)

	for key, st := range lister.Sites() {
		key := key
		out[key[0]+"_"+key[1]] = dumpOne(st)
	}

	return out
}

func dumpOne(st *site.Site) SiteDump {
	g := st.Graph()
	dump := SiteDump{}
	if g == nil {
		return dump
	}

	st.Persistent(func(persistent *state.PersistentState) {
		for i := 0; i < g.NodeCount(); i++ {
			node := g.Node(i)

			var failCount uint32
			var updatedAt *time.Time
			if ns, ok := persistent.NodeState[node.ID]; ok {
				failCount = ns.UpdateAttempts
				updatedAt = ns.UpdateReceived
			}

			info := NodeInfo{
				ID:              node.ID,
				Hostname:        node.Hostname,
				UpdateFailCount: failCount,
				UpdatedAt:       updatedAt,
			}

			switch g.Policy(i) {
			case policy.PolicyReady:
				if failCount > 0 {
					dump.Failed = append(dump.Failed, info)
				} else {
					dump.Scheduled = append(dump.Scheduled, info)
				}
			case policy.PolicyFinished:
				dump.Updated = append(dump.Updated, info)
			case policy.PolicyPending:
				dump.Pending = append(dump.Pending, info)
			case policy.PolicyBroken:
				dump.Broken = append(dump.Broken, info)
			}
		}
	})

	dump.Counts = Counts{
		Updated:   len(dump.Updated),
		Pending:   len(dump.Pending),
		Failed:    len(dump.Failed),
		Scheduled: len(dump.Scheduled),
		Broken:    len(dump.Broken),
		Total:     len(dump.Updated) + len(dump.Pending) + len(dump.Failed) + len(dump.Scheduled) + len(dump.Broken),
	}

	return dump
}
