package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freifunk-updates/meshupd/internal/config"
	"github.com/freifunk-updates/meshupd/internal/meshinfo"
	"github.com/freifunk-updates/meshupd/internal/nodeid"
	"github.com/freifunk-updates/meshupd/internal/site"
)

type fakeLister struct {
	sites map[[2]string]*site.Site
}

func (f *fakeLister) Sites() map[[2]string]*site.Site { return f.sites }

func TestGenerate_BucketsByPolicy(t *testing.T) {
	snap := meshinfo.Snapshot{
		Timestamp: time.Now(),
		Nodes: []meshinfo.NodeSnapshot{
			{NodeID: id(t, "aaaaaaaaaaaa"), Hostname: "root", IsOnline: true, Firmware: meshinfo.Firmware{Release: "v1"}, Autoupdater: meshinfo.Autoupdater{Enabled: true}, LastSeen: time.Now()},
			{NodeID: id(t, "bbbbbbbbbbbb"), Hostname: "leaf", IsOnline: true, Firmware: meshinfo.Firmware{Release: "v2"}, Autoupdater: meshinfo.Autoupdater{Enabled: true}, GatewayNexthop: strp("aaaaaaaaaaaa"), LastSeen: time.Now()},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(snap)
	}))
	defer srv.Close()

	cfg := config.SiteConfig{
		Name: "freifunk", Branch: "stable", Meshinfo: srv.URL, LatestVersion: "v2",
		OnUpdate: "u", OnNoupdate: "n", RefreshIntervalSecs: 300, UpdateTimeoutSecs: 300,
		BrokenThreshold: 3, StateFile: filepath.Join(t.TempDir(), "state.json"), Enabled: true,
		MaxNodeAgeDays: 7,
	}
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	s, err := site.New(cfg, logrus.NewEntry(l), nil)
	require.NoError(t, err)
	require.NoError(t, s.InitialBuild(context.Background()))

	out := Generate(&fakeLister{sites: map[[2]string]*site.Site{{"freifunk", "stable"}: s}})
	dump, ok := out["freifunk_stable"]
	require.True(t, ok)

	assert.Len(t, dump.Updated, 1)
	assert.Equal(t, "leaf", dump.Updated[0].Hostname)
	// leaf is already on latest, so root (blocked on nothing) is Ready, not
	// Pending, and lands in the zero-fail-count "scheduled" bucket.
	assert.Len(t, dump.Scheduled, 1)
	assert.Equal(t, "root", dump.Scheduled[0].Hostname)
	assert.Empty(t, dump.Pending)
	assert.Empty(t, dump.Failed)
	assert.Empty(t, dump.Broken)

	assert.Equal(t, Counts{Updated: 1, Scheduled: 1, Total: 2}, dump.Counts)
}

func id(t *testing.T, s string) nodeid.ID {
	t.Helper()
	parsed, err := nodeid.Parse(s)
	require.NoError(t, err)
	return parsed
}

func strp(s string) *string { return &s }
