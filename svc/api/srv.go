package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"pasties/cfg"
	"pasties/svc/db"
	"pasties/svc/svc"
	"pasties/svc/util"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	store      db.Store
	rdb        *db.Redis
	httpServer *http.Server
}

// NewServer wires the page, API and ops routes. rdb may be nil.
func NewServer(c *cfg.Cfg, p *svc.Paste, store db.Store, rdb *db.Redis) (*Server, error) {
	pages, err := NewPages(p)
	if err != nil {
		return nil, errors.Wrap(err, "load pages")
	}
	s := &Server{cfg: c, store: store, rdb: rdb}
	mw := NewMw(c)
	hdl := &Hdl{paste: p, pages: pages}

	r := chi.NewRouter()
	r.Use(mw.Recoverer)
	r.Group(func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if !c.IsProduction() {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RealIP)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("ip", util.RedactIP(req.RemoteAddr)).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.Duration)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(middleware.Compress(5, "text/html", "text/css", "application/json"))

		r.Route("/api", func(r chi.Router) {
			r.Get("/", hdl.Reserved)
			r.Post("/", hdl.Create)
			r.Put("/", hdl.Update)
			r.Delete("/", hdl.Delete)
			r.Post("/render", hdl.Render)
			r.Get("/{url}", hdl.View)
			r.Get("/{url}/qr", hdl.QR)
			r.NotFound(pages.NotFound)
		})
		r.Route("/meta", func(r chi.Router) {
			r.Get("/", reserved("This is a route reserved for pasties."))
		})
		r.Route("/assets", func(r chi.Router) {
			r.Get("/", reserved("This is a route reserved for pasties assets."))
			r.Get("/style.css", pages.Stylesheet)
		})
		r.Get("/", pages.Editor)
		r.Get("/{url}", pages.View)
		r.Get("/{url}/edit", pages.Edit)
		r.NotFound(pages.NotFound)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              c.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    256 * 1024,
	}
	return s, nil
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("addr", s.httpServer.Addr).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("addr", s.httpServer.Addr).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
