package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/blacknout/nomada-backend-sub000/internal/bridge"
	"github.com/blacknout/nomada-backend-sub000/internal/dispatch"
	"github.com/blacknout/nomada-backend-sub000/internal/notify"
	"github.com/blacknout/nomada-backend-sub000/internal/ridestop"
	"github.com/blacknout/nomada-backend-sub000/internal/server/middleware"
	"github.com/blacknout/nomada-backend-sub000/internal/store"
	"github.com/blacknout/nomada-backend-sub000/pkg/config"
	"github.com/blacknout/nomada-backend-sub000/pkg/hub"
	"github.com/blacknout/nomada-backend-sub000/pkg/transport"
)

// transportCloser is what the App needs beyond hub.Sender to shut a live
// socket server-side. *transport.Connection satisfies it.
type transportCloser interface {
	Close(err error)
}

type App struct {
	logger     *slog.Logger
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
	scheduler  *notify.Scheduler
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st *store.MySQLStore) *App {
	h := hub.New(logger)

	pushClient := notify.NewExpoClient(cfg.Push, logger)
	notifyBridge := notify.NewBridge(st, pushClient, logger)
	emailSender := notify.NewEmailSender(cfg.Email, logger)
	coordinator := ridestop.NewCoordinator(st, h, notifyBridge, emailSender, logger)
	dispatcher := dispatch.New(h, coordinator, logger)
	scheduler := notify.NewScheduler(notifyBridge, logger)

	app := &App{
		logger:     logger,
		hub:        h,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		config:     cfg,
		ctx:        rootCtx,
	}

	// Closes the oldest connection to make room when the per-user limit hits
	// in cycle mode.
	connCycler := func(userID string) {
		oldest, found := h.Registry.OldestConnection(userID)
		if !found {
			return
		}
		if closer, ok := oldest.Transport.(transportCloser); ok {
			logger.Info("Cycling connection: closing oldest",
				slog.String("userID", userID),
				slog.String("connID", oldest.ID.String()),
			)
			closer.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
			middleware.NewConnectionLimiter(
				logger,
				h.Registry.ConnectionCount,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)

	restAPI := bridge.New(dispatcher, h, scheduler, st, cfg.Server.Auth.JWTSecret, logger)
	mux.Handle("/api/", restAPI.Router(cfg.Bridge))

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app
}

func (a *App) Run() error {
	a.scheduler.Start()

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	ident := reqMeta.User
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", ident.ID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)

	// Auth already passed; admission registers the connection and auto-joins
	// the user's own room.
	a.hub.Admit(conn.ID(), ident.ID, conn)

	conn.SetOnMessageHandler(func(ctx context.Context, connID uuid.UUID, msg []byte) {
		a.dispatcher.Dispatch(ctx, ident, connID, msg)
	})
	conn.SetOnCloseHandler(func(connID uuid.UUID, err error) {
		connLogger.Info("Evicting connection due to closure", slog.String("connID", connID.String()))
		a.hub.Evict(connID)
	})

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.hub.Registry.AllConnections() {
		if closer, ok := conn.Transport.(transportCloser); ok {
			closer.Close(errors.New("graceful shutdown"))
		}
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
