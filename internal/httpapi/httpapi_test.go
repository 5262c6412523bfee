package httpapi

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
	"github.com/freifunk-updates/meshupd/internal/decision"
	"github.com/freifunk-updates/meshupd/internal/meshinfo"
	"github.com/freifunk-updates/meshupd/internal/nodeid"
	"github.com/freifunk-updates/meshupd/internal/site"
)

type fakeLookup struct{ sites map[string]*site.Site }

func (f *fakeLookup) Lookup(siteName, branch string) (*site.Site, bool) {
	s, ok := f.sites[siteName+"/"+branch]
	return s, ok
}

type fakeLister struct{ sites map[[2]string]*site.Site }

func (f *fakeLister) Sites() map[[2]string]*site.Site { return f.sites }

func newTestSite(t *testing.T, addr string) *site.Site {
	t.Helper()
	id, err := nodeid.Parse("aaaaaaaaaaaa")
	require.NoError(t, err)

	snap := meshinfo.Snapshot{
		Timestamp: time.Now(),
		Nodes: []meshinfo.NodeSnapshot{
			{NodeID: id, Hostname: "a", IsOnline: true, Firmware: meshinfo.Firmware{Release: "v1"}, Addresses: []string{addr}, LastSeen: time.Now()},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(snap)
	}))
	t.Cleanup(srv.Close)

	cfg := config.SiteConfig{
		Name: "freifunk", Branch: "stable", Meshinfo: srv.URL, LatestVersion: "v2",
		OnUpdate: "https://example.org/update", OnNoupdate: "https://example.org/noupdate",
		RefreshIntervalSecs: 300, UpdateTimeoutSecs: 300, BrokenThreshold: 3,
		StateFile: filepath.Join(t.TempDir(), "state.json"), Enabled: true, MaxNodeAgeDays: 7,
	}
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	s, err := site.New(cfg, logrus.NewEntry(l), nil)
	require.NoError(t, err)
	require.NoError(t, s.InitialBuild(context.Background()))
	return s
}

func TestUpdateCheck_MissingForwardedForReturns400(t *testing.T) {
	s := newTestSite(t, "10.0.0.1")
	svc := &decision.Service{Sites: &fakeLookup{sites: map[string]*site.Site{"freifunk/stable": s}}, Log: logrus.New()}
	server := &Server{Decision: svc, Diagnostics: &fakeLister{}, Log: logrus.New()}

	req := httptest.NewRequest(http.MethodGet, "/freifunk/stable/sysupgrade/firmware.bin", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateCheck_UnknownSiteReturns404(t *testing.T) {
	svc := &decision.Service{Sites: &fakeLookup{sites: map[string]*site.Site{}}, Log: logrus.New()}
	server := &Server{Decision: svc, Diagnostics: &fakeLister{}, Log: logrus.New()}

	req := httptest.NewRequest(http.MethodGet, "/nope/stable/sysupgrade/firmware.bin", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateCheck_KnownReadyNodeRedirects(t *testing.T) {
	s := newTestSite(t, "10.0.0.1")
	svc := &decision.Service{Sites: &fakeLookup{sites: map[string]*site.Site{"freifunk/stable": s}}, Log: logrus.New()}
	server := &Server{Decision: svc, Diagnostics: &fakeLister{}, Log: logrus.New()}

	req := httptest.NewRequest(http.MethodGet, "/freifunk/stable/sysupgrade/firmware.bin", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	assert.Equal(t, "https://example.org/update/firmware.bin", rr.Header().Get("Location"))
}

func TestNodeDump_ReturnsJSON(t *testing.T) {
	s := newTestSite(t, "10.0.0.1")
	svc := &decision.Service{Sites: &fakeLookup{sites: map[string]*site.Site{"freifunk/stable": s}}, Log: logrus.New()}
	server := &Server{
		Decision:    svc,
		Diagnostics: &fakeLister{sites: map[[2]string]*site.Site{{"freifunk", "stable"}: s}},
		Log:         logrus.New(),
	}

	req := httptest.NewRequest(http.MethodGet, "/node_dump.json", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body, "freifunk_stable")
}
