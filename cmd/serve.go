package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"todo-app/api"
	"todo-app/config"
	"todo-app/todo"
	"todo-app/web"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web page, the JSON api and the live streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

// server is the echo instance together with the browser sessions it serves.
// Every request context derives from streams, which is cancelled as soon as
// shutdown starts so live streams do not hold it up.
type server struct {
	echo        *echo.Echo
	sessions    *web.Sessions
	stopStreams context.CancelFunc
}

func newServer(c *config.Config, a *app, logger *log.Logger) *server {
	hub := todo.NewHub(todo.NewService(a.store, logger))

	var deduper api.Deduper
	if a.redis != nil {
		deduper = api.NewRedisDeduper(a.redis, c.DeduperTTL())
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, api.HeaderIdempotencyKey},
	}))

	api.Register(e, hub, deduper, logger)

	sessions := web.NewSessions(hub, c.SessionTTL(), logger, web.WithMaxSessions(c.MaxSessions))
	web.Register(e, sessions)

	streams, stopStreams := context.WithCancel(context.Background())
	e.Server.BaseContext = func(net.Listener) context.Context { return streams }
	e.Server.RegisterOnShutdown(stopStreams)

	return &server{echo: e, sessions: sessions, stopStreams: stopStreams}
}

func (s *server) Close() {
	s.stopStreams()
	s.sessions.Close()
}

func serve(ctx context.Context) error {
	logger := newLogger()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := newServer(cfg, a, logger)
	defer srv.Close()
	go srv.sessions.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("listening")
		errc <- srv.echo.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.echo.Shutdown(sctx); err != nil {
		logger.WithError(err).Warn("shutdown")
	}
	return nil
}
