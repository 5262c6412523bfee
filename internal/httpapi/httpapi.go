// Package httpapi is the HTTP edge (spec.md §6): routing, X-Forwarded-For
// extraction, and response framing. It is an "external collaborator" per
// spec.md §1; the interesting logic lives in internal/decision and
// internal/diagnostics; this package only adapts them to net/http, grounded
// on original_source/src/web.rs's two routes, reimplemented with
// gorilla/mux in place of actix-web's resource routing.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/freifunk-updates/meshupd/internal/decision"
	"github.com/freifunk-updates/meshupd/internal/diagnostics"
)

// ErrRequestMalformed wraps a missing or unparseable X-Forwarded-For header
// (spec.md §7, error kind request-malformed).
var ErrRequestMalformed = fmt.Errorf("httpapi: request malformed")

// Server builds the router for the two documented routes plus the metrics
// endpoint.
type Server struct {
	Decision    *decision.Service
	Diagnostics diagnostics.SiteLister
	Metrics     http.Handler
	Log         *logrus.Logger
}

// Router returns the configured gorilla/mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/{site}/{branch}/sysupgrade/{file}", s.handleUpdateCheck).Methods(http.MethodGet)
	r.HandleFunc("/node_dump.json", s.handleNodeDump).Methods(http.MethodGet)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	site, branch, file := vars["site"], vars["branch"], vars["file"]

	clientIP, err := forwardedFor(r)
	if err != nil {
		http.Error(w, "400 Bad Request: missing or invalid X-Forwarded-For", http.StatusBadRequest)
		return
	}

	result, err := s.Decision.Decide(site, branch, clientIP, time.Now())
	if err != nil {
		http.Error(w, "404 Not Found", http.StatusNotFound)
		return
	}

	location := fmt.Sprintf("%s/%s", result.RedirectBase, file)
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusTemporaryRedirect)
}

func (s *Server) handleNodeDump(w http.ResponseWriter, r *http.Request) {
	dump := diagnostics.Generate(s.Diagnostics)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dump); err != nil {
		s.Log.WithError(err).Error("httpapi: failed to encode node dump")
	}
}

// forwardedFor extracts and parses the X-Forwarded-For header, the Go
// equivalent of web.rs's ForwardedFor FromRequest extractor.
func forwardedFor(r *http.Request) (netip.Addr, error) {
	hdr := r.Header.Get("X-Forwarded-For")
	if hdr == "" {
		return netip.Addr{}, ErrRequestMalformed
	}
	addr, err := netip.ParseAddr(hdr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrRequestMalformed, err)
	}
	return addr, nil
}
