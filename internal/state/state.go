// Package state implements the per-site PersistentState: per-node update
// history and remembered uplink, serialised to disk as JSON with an atomic
// write-temp-then-rename, adapted from the teacher's
// pkg/upgrade/state.go StateManager (there: YAML checkpoints for a
// MongoDB upgrade; here: JSON history for a mesh node, per spec.md §6).
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/freifunk-updates/meshupd/internal/nodeid"
)

// NodeState is the per-node update bookkeeping described in spec.md §3.
type NodeState struct {
	UpdateReceived  *time.Time `json:"update_received"`
	UpdateAttempts  uint32     `json:"update_attempts"`
}

// LinkInfo records the uplink a node was first observed using, so a later
// snapshot that omits gateway_nexthop can still be resolved (spec.md §3).
type LinkInfo struct {
	Uplink nodeid.ID `json:"uplink"`
	Since  time.Time `json:"since"`
}

// PersistentState is keyed by NodeId, not by graph-local index, since it
// must outlive any single PolicyGraph build.
type PersistentState struct {
	NodeState   map[nodeid.ID]*NodeState `json:"node_state"`
	LinkHistory map[nodeid.ID]*LinkInfo  `json:"link_history"`
}

// New returns an empty, ready-to-use PersistentState.
func New() *PersistentState {
	return &PersistentState{
		NodeState:   make(map[nodeid.ID]*NodeState),
		LinkHistory: make(map[nodeid.ID]*LinkInfo),
	}
}

// RecordDelivery implements the decision-service side effect from spec.md
// §4.2 step 4 (Ready case): set update_received once, the first time a
// Ready node is hit, and never bump it again until a timeout clears it.
func (s *PersistentState) RecordDelivery(id nodeid.ID, now time.Time) {
	ns, ok := s.NodeState[id]
	if !ok {
		ns = &NodeState{}
		s.NodeState[id] = ns
	}
	if ns.UpdateReceived == nil {
		t := now
		ns.UpdateReceived = &t
	}
}

// RememberUplink records link_history[id] the first time a node is seen
// with a resolved uplink, per spec.md §4.1 ("the caller records
// link_history[id] for any node newly seen with an uplink").
func (s *PersistentState) RememberUplink(id, uplink nodeid.ID, now time.Time) {
	if _, ok := s.LinkHistory[id]; ok {
		return
	}
	s.LinkHistory[id] = &LinkInfo{Uplink: uplink, Since: now}
}

// Manager owns the on-disk location of a site's PersistentState and
// guards it with a RWMutex, matching the teacher's StateManager shape
// (pkg/upgrade/state.go) but targeting JSON instead of YAML.
type Manager struct {
	path string
	mu   sync.RWMutex
}

// NewManager returns a Manager rooted at path. The directory is created if
// missing so a fresh site can be brought up without a pre-existing state
// file (spec.md §4.4, "opens each site's state file (absent → default)").
func NewManager(path string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: creating directory for %s: %w", path, err)
	}
	return &Manager{path: path}, nil
}

// Load reads the state file, returning a fresh empty PersistentState if it
// does not yet exist.
func (m *Manager) Load() (*PersistentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("state: reading %s: %w", m.path, err)
	}

	var s PersistentState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state: parsing %s: %w", m.path, err)
	}
	if s.NodeState == nil {
		s.NodeState = make(map[nodeid.ID]*NodeState)
	}
	if s.LinkHistory == nil {
		s.LinkHistory = make(map[nodeid.ID]*LinkInfo)
	}
	return &s, nil
}

// Save serialises s to disk atomically: write to a sibling temp file, then
// rename over the real path, so a crash mid-write never leaves a
// half-written state file (spec.md §4.3, "writing atomically
// (write-temp-then-rename)").
func (m *Manager) Save(s *PersistentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshalling: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: writing temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("state: renaming %s to %s: %w", tmp, m.path, err)
	}
	return nil
}
