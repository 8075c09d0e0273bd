package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/eventmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

const httpShutdownTimeout = 5 * time.Second

type httpServer struct {
	mux    *http.ServeMux
	server *http.Server
}

// RouteInfo describes a hosted route in the introspection API.
type RouteInfo struct {
	Route     string      `json:"route"`
	Private   bool        `json:"private"`
	Instances int         `json:"instances"`
	Kind      string      `json:"kind"`
	Stats     *RouteStats `json:"stats"`
}

// RoutesResponse is the body of GET /api/routes.
type RoutesResponse struct {
	Origin    string        `json:"origin"`
	Resources ResourceUsage `json:"resources"`
	Routes    []RouteInfo   `json:"routes"`
}

// RegisterHTTPHandler mounts handler on the server of port. Servers start
// with Start, so handlers must be registered before that.
func (p *Platform) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	p.httpServersMu.Lock()
	defer p.httpServersMu.Unlock()

	if p.httpServers == nil {
		p.httpServers = make(map[int]*httpServer)
	}

	srv, ok := p.httpServers[port]
	if !ok {
		srv = &httpServer{mux: http.NewServeMux()}
		p.httpServers[port] = srv
	}

	srv.mux.Handle(pattern, handler)
}

func (p *Platform) registerObservability() {
	if p.conf.MetricsEnabled {
		p.RegisterHTTPHandler(p.conf.MetricsPort, "/metrics", promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{}))
	}
	if p.conf.WebUIEnabled {
		p.RegisterHTTPHandler(p.conf.WebUIPort, "/api/routes", http.HandlerFunc(p.handleGetRoutes))
	}
}

func (p *Platform) startHTTPServers() {
	p.httpServersMu.Lock()
	defer p.httpServersMu.Unlock()

	for port, srv := range p.httpServers {
		if srv.server != nil {
			continue
		}
		addr := fmt.Sprintf(":%d", port)
		srv.server = &http.Server{Addr: addr, Handler: srv.mux, ReadHeaderTimeout: 10 * time.Second}
		p.log.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(server *http.Server) {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.log.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": server.Addr})
			}
		}(srv.server)
	}
}

func (p *Platform) stopHTTPServers() {
	p.httpServersMu.Lock()
	defer p.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	for _, srv := range p.httpServers {
		if srv.server == nil {
			continue
		}
		if err := srv.server.Shutdown(ctx); err != nil {
			p.log.Warn("HTTP server shutdown failed", loggingpkg.LogFields{"address": srv.server.Addr, "error": err.Error()})
		}
		srv.server = nil
	}
}

// RouteInfos lists every hosted route with a snapshot of its statistics.
func (p *Platform) RouteInfos() []RouteInfo {
	routes := p.Routes(RoutesAll)
	infos := make([]RouteInfo, 0, len(routes))
	for _, route := range routes {
		sq, ok := p.lookup(route)
		if !ok {
			continue
		}
		stats := sq.stats.Snapshot()
		infos = append(infos, RouteInfo{
			Route:     route,
			Private:   sq.private,
			Instances: sq.instances,
			Kind:      sq.fn.Kind().String(),
			Stats:     &stats,
		})
	}
	return infos
}

func (p *Platform) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if len(p.conf.WebUICORSAllowedOrigins) > 0 {
		allowedOrigin := p.getAllowedCORSOrigin(r.Header.Get("Origin"))
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := RoutesResponse{
		Origin:    p.origin,
		Resources: p.resources.Snapshot(),
		Routes:    p.RouteInfos(),
	}
	if err := jsoncodec.Encode(w, resp); err != nil {
		p.log.Error("Failed to encode routes", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (p *Platform) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range p.conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
