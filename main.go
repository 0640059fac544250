package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cashier-board/internal/backend"
	"cashier-board/internal/board"
	"cashier-board/internal/config"
	"cashier-board/internal/connectivity"
	httpapi "cashier-board/internal/http"
	"cashier-board/internal/http/handlers"
	"cashier-board/internal/kv"
	"cashier-board/internal/logger"
	"cashier-board/internal/middleware"
	"cashier-board/internal/notify"
	"cashier-board/internal/order"
	"cashier-board/internal/pending"
	"cashier-board/internal/queue"
	"cashier-board/internal/ws"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, cfg.StoreDSN)
	if err != nil {
		log.Fatal("store open failed", zap.Error(err))
	}
	defer store.Close()

	pendingQueue := pending.NewQueue(store)
	gate := notify.NewGate(store)
	api := backend.New(backend.Options{
		BaseURL:   cfg.BackendBaseURL,
		Token:     cfg.BackendToken,
		Timeout:   cfg.BackendTimeout,
		RateLimit: cfg.BackendRateLimit,
		RateBurst: cfg.BackendRateBurst,
		Logger:    log.Named("backend"),
	})

	probeAddr, err := connectivity.HostPort(cfg.BackendBaseURL)
	if err != nil {
		log.Fatal("invalid BACKEND_BASE_URL", zap.Error(err))
	}
	probe := connectivity.NewProbe(probeAddr, cfg.ConnectivityProbeInterval, cfg.ConnectivityProbeTimeout, log.Named("connectivity"))

	dialer := &ws.Dialer{
		URL:       cfg.BackendPushURL,
		Heartbeat: cfg.WSHeartbeatInterval,
		Logger:    log.Named("push"),
	}
	if cfg.BackendToken != "" {
		dialer.Header = http.Header{"Authorization": []string{"Bearer " + cfg.BackendToken}}
	}
	hub := ws.NewHub(nil, cfg.WSHeartbeatInterval, log.Named("display"))
	if cfg.Env == "development" {
		hub.CheckOrigin = ws.AllowOrigins([]string{"*"})
	} else {
		hub.CheckOrigin = ws.AllowOrigins(cfg.CorsAllowedOrigins)
	}

	var (
		bus    *queue.Conn
		events *queue.Events
	)
	if cfg.RabbitMQURL != "" {
		bus = queue.Open(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.RabbitMQCommandsQueue, log.Named("rabbitmq"))
		defer bus.Close()
		if err := bus.Connect(); err != nil {
			log.Warn("rabbitmq unavailable; retrying in the background", zap.Error(err))
		}
		events = queue.NewEvents(bus, cfg.RabbitMQExchange, log.Named("events"))
		log.Info("rabbitmq enabled", zap.String("exchange", cfg.RabbitMQExchange), zap.String("commands", cfg.RabbitMQCommandsQueue))
	} else {
		log.Info("event bus disabled (RABBITMQ_URL is empty)")
	}

	notifiers := board.Notifiers{hub}
	if events != nil {
		notifiers = append(notifiers, events)
	}

	boardCfg := board.Config{
		Window:         order.Window{Span: cfg.BoardWindow(), Skew: cfg.BoardClockSkew},
		ReconnectDelay: cfg.BoardReconnectDelay,
		ReloadAfter:    cfg.BoardReloadAfter,
		SweepInterval:  cfg.BoardSweepInterval,
		AlertDuration:  cfg.BoardAlertDuration,
		ResyncSettle:   cfg.BoardResyncSettle,
		RequestTimeout: cfg.BackendTimeout,
	}
	supervisor := board.NewSupervisor(func(reloader board.Reloader) (*board.Synchronizer, error) {
		return board.New(boardCfg, board.Deps{
			API:          api,
			Channel:      dialer,
			Queue:        pendingQueue,
			Connectivity: probe,
			Gate:         gate,
			Notifier:     notifiers,
			Listener:     hub,
			Reloader:     reloader,
			Logger:       log.Named("board"),
		})
	}, log.Named("supervisor"))
	supervisor.OnReload = func(reason string) {
		hub.BoardReloaded(reason)
		if events != nil {
			events.BoardReloaded(reason)
		}
	}
	hub.Board = supervisor

	h := &handlers.Handler{
		Board:         supervisor,
		Pending:       pendingQueue,
		Notifications: gate,
		Orders:        api,
		Logger:        log.Named("api"),
		Config:        cfg,
	}
	apiServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(log, cfg, httpapi.Deps{
			Handler: h,
			Display: hub.ServeWS,
			Latency: middleware.NewLatency(200),
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return probe.Run(gctx) })
	g.Go(func() error { return supervisor.Run(gctx) })
	if bus != nil {
		g.Go(func() error {
			return bus.Consume(gctx, cfg.RabbitMQCommandsQueue, queue.CommandHandler(supervisor), 5, 5*time.Second)
		})
	}
	g.Go(func() error {
		log.Info("cashier board listening", zap.String("addr", cfg.HTTPAddr), zap.String("backend", cfg.BackendBaseURL))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return apiServer.Shutdown(ctxShutdown)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("cashier board stopped", zap.Error(err))
	}
	log.Info("cashier board stopped")
}
