// Package meshinfo holds the wire shape of one fetched mesh snapshot and a
// thin HTTP client for the upstream mesh-info endpoint. Both the shape and
// the fetch are "external collaborator" concerns per spec.md §1; the
// interesting logic lives downstream in internal/policy.
package meshinfo

import (
	"time"

	"github.com/freifunk-updates/meshupd/internal/nodeid"
)

// NodeSnapshot is one node's reported state at one sample point.
type NodeSnapshot struct {
	NodeID            nodeid.ID `json:"node_id"`
	Hostname          string    `json:"hostname"`
	IsOnline          bool      `json:"is_online"`
	Firmware          Firmware  `json:"firmware"`
	Autoupdater       Autoupdater `json:"autoupdater"`
	Addresses         []string  `json:"addresses"`
	Gateway           *string   `json:"gateway,omitempty"`
	GatewayNexthop    *string   `json:"gateway_nexthop,omitempty"`
	LastSeen          time.Time `json:"lastseen"`
}

// Firmware carries the release string compared against a site's configured
// latest version.
type Firmware struct {
	Release string `json:"release"`
}

// Autoupdater carries the node's own autoupdate preference.
type Autoupdater struct {
	Enabled bool `json:"enabled"`
}

// Snapshot is the full document returned by the upstream mesh-info
// endpoint: an ordered node list plus the sample timestamp.
type Snapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Nodes     []NodeSnapshot `json:"nodes"`
}
