package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pliu/roomchat/internal/config"
	"github.com/pliu/roomchat/internal/handlers"
	"github.com/pliu/roomchat/internal/middleware"
	"github.com/pliu/roomchat/internal/store/sqlstore"
	"github.com/pliu/roomchat/internal/ws"
)

var addr = flag.String("addr", "", "http service address (overrides PORT)")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := newLogger(cfg)

	store, err := sqlstore.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("database connection failed")
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("connected to database")

	hub := ws.NewHub(store, logger, ws.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	listen := cfg.Addr()
	if *addr != "" {
		listen = *addr
	}
	srv := &http.Server{
		Addr:              listen,
		Handler:           newRouter(cfg, logger, store, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", listen).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown; the hub
		// closes those once gctx is done.
		err := srv.Shutdown(shutdownCtx)
		if waitErr := hub.Wait(shutdownCtx); waitErr != nil {
			logger.Warn().Err(waitErr).Msg("websocket connections did not drain in time")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func newRouter(cfg *config.Config, logger zerolog.Logger, store *sqlstore.SQLStore, hub *ws.Hub) http.Handler {
	r := mux.NewRouter()

	rooms := &handlers.RoomHandler{
		Store: store,
		Hub:   hub,
		Log:   logger.With().Str("component", "rooms").Logger(),
	}
	rooms.Register(r)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// WebSocket endpoint. Browsers dial the page origin, so upgrades on "/"
	// are accepted as well as "/ws".
	serveWs := func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	}
	r.HandleFunc("/ws", serveWs)
	r.Path("/").MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return websocket.IsWebSocketUpgrade(r)
	}).HandlerFunc(serveWs)

	// Serve static files with cache-busting headers for development
	static := http.FileServer(http.Dir(cfg.StaticDir))
	r.PathPrefix("/").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.IsDevelopment() && (strings.HasSuffix(r.URL.Path, ".css") || strings.HasSuffix(r.URL.Path, ".js")) {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
		}
		static.ServeHTTP(w, r)
	}))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	})

	// Wrapped outside the router so preflights and unmatched methods are
	// still logged and answered.
	return middleware.Logging(logger)(middleware.Metrics(corsHandler(r)))
}
