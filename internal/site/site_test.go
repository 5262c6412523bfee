package site

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
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func testConfig(t *testing.T, meshinfoURL string) config.SiteConfig {
	t.Helper()
	return config.SiteConfig{
		Name:                "freifunk",
		Branch:              "stable",
		Meshinfo:            meshinfoURL,
		LatestVersion:       "v2",
		OnUpdate:            "https://example.org/update",
		OnNoupdate:          "https://example.org/noupdate",
		UpdateDefault:       false,
		DryRun:              false,
		IgnoreAutoupdateOff: false,
		RefreshIntervalSecs: 300,
		UpdateTimeoutSecs:   300,
		BrokenThreshold:     3,
		StateFile:           filepath.Join(t.TempDir(), "state.json"),
		Enabled:             true,
		MaxNodeAgeDays:      7,
	}
}

func snapshotServer(t *testing.T, snap meshinfo.Snapshot) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(snap)
	}))
}

func TestInitialBuild_PublishesGraph(t *testing.T) {
	snap := meshinfo.Snapshot{
		Timestamp: time.Now(),
		Nodes: []meshinfo.NodeSnapshot{
			{NodeID: mustID(t, "aaaaaaaaaaaa"), Hostname: "a", IsOnline: true, Firmware: meshinfo.Firmware{Release: "v1"}, LastSeen: time.Now()},
		},
	}
	srv := snapshotServer(t, snap)
	defer srv.Close()

	s, err := New(testConfig(t, srv.URL), testLogger(), nil)
	require.NoError(t, err)

	require.NoError(t, s.InitialBuild(context.Background()))
	g := s.Graph()
	require.NotNil(t, g)
	assert.Equal(t, 1, g.NodeCount())
}

func TestInitialBuild_FetchFailureIsFatalWithNoPriorGraph(t *testing.T) {
	s, err := New(testConfig(t, "http://127.0.0.1:0/does-not-exist"), testLogger(), nil)
	require.NoError(t, err)

	assert.Error(t, s.InitialBuild(context.Background()))
	assert.Nil(t, s.Graph())
}

func TestRequestSave_NonBlockingWhenFull(t *testing.T) {
	s, err := New(testConfig(t, "http://example.invalid"), testLogger(), nil)
	require.NoError(t, err)

	for i := 0; i < saveChannelCapacity+4; i++ {
		s.RequestSave()
	}
	assert.LessOrEqual(t, len(s.saveCh), saveChannelCapacity)
}

func mustID(t *testing.T, s string) nodeid.ID {
	t.Helper()
	id, err := nodeid.Parse(s)
	require.NoError(t, err)
	return id
}
