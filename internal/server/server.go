// Package server wires the configuration, credential store, and
// composition engine into an HTTP surface: the OpenAI-compatible gateway
// endpoint, the model listing, a liveness probe, and the .env
// administration endpoints.
package server

import (
	"context"
	"net"
	"net/http"

	"github.com/rakunlabs/ada"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/rakunlabs/deepclaude-at/internal/compose"
	"github.com/rakunlabs/deepclaude-at/internal/config"
	"github.com/rakunlabs/deepclaude-at/internal/envstore"
)

// serviceName identifies this process to the server middleware, mirroring
// the teacher's config.Service convention.
const serviceName = "deepclaude-at"

// Server binds the composition engine and the credential store to an ada
// router.
type Server struct {
	cfg      config.Server
	server   *ada.Server
	engine   *compose.Engine
	envStore *envstore.Store
	pricing  compose.PricingTable
	mode     compose.Mode

	reasoningDefault string
	answerDefault    string
}

// New builds the router, registers every route, and returns a Server ready
// to Start.
func New(cfg *config.Config, engine *compose.Engine, envStore *envstore.Store) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(serviceName),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	mode := compose.ModeNormal
	if compose.Mode(cfg.Mode) == compose.ModeFull {
		mode = compose.ModeFull
	}

	s := &Server{
		cfg:              cfg.Server,
		server:           mux,
		engine:           engine,
		envStore:         envStore,
		pricing:          cfg.PricingTable(),
		mode:             mode,
		reasoningDefault: cfg.Upstream.DeepSeekDefaultModel,
		answerDefault:    cfg.Upstream.ClaudeDefaultModel,
	}

	mux.GET("/healthz", s.Healthz)

	group := mux.Group(cfg.Server.BasePath)
	group.POST("/v1/chat/completions", s.ChatCompletions)
	group.GET("/v1/models", s.ListModels)
	group.GET("/api/v1/env", s.GetEnv)
	group.PUT("/api/v1/env", s.UpdateEnv)

	return s, nil
}

// Start binds the listener and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.cfg.Host, s.cfg.Port))
}

// Healthz reports the process as live once configuration has loaded, which
// it has by the time the router is reachable.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	httpResponse(w, "ok", http.StatusOK)
}
