package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/koopa0/system-design/game-coordinator/internal/config"
	"github.com/koopa0/system-design/game-coordinator/internal/coordinator"
	"github.com/koopa0/system-design/game-coordinator/internal/events"
	"github.com/koopa0/system-design/game-coordinator/internal/game"
	"github.com/koopa0/system-design/game-coordinator/internal/handler"
	"github.com/koopa0/system-design/game-coordinator/internal/random"
	"github.com/koopa0/system-design/game-coordinator/internal/telemetry"
	"github.com/koopa0/system-design/game-coordinator/internal/transport"
	"github.com/koopa0/system-design/game-coordinator/pkg/logger"
)

func main() {
	// 解析命令行參數（空值表示沿用配置檔 / 環境變數）
	var (
		configPath = flag.String("config", "", "YAML 配置檔路徑")
		envFile    = flag.String("env-file", "", ".env 檔案路徑")
		addr       = flag.String("addr", "", "監聽位址，例如 :8080")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		slog.Error("載入配置失敗", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	log := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource || cfg.Log.Level == "debug", // debug 模式顯示源碼位置
	})

	if err := run(cfg, log); err != nil {
		log.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
	log.Info("服務器已關閉")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 追蹤必須在協調器建立前設定，協調器在建立時取得全域 tracer
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("關閉追蹤失敗", "error", err)
		}
	}()

	seed, err := random.Resolve(cfg.Game.Seed)
	if err != nil {
		return err
	}
	engine, err := game.New(cfg.Game.Type, random.New(seed))
	if err != nil {
		return err
	}

	forwarder, err := newForwarder(ctx, cfg, log)
	if err != nil {
		return err
	}

	opts := []coordinator.Option{coordinator.WithInboxSize(cfg.Game.InboxSize)}
	var eventStats handler.EventStats
	if forwarder != nil {
		opts = append(opts, coordinator.WithPublisher(forwarder))
		eventStats = forwarder
	}

	// 創建協調器
	coord := coordinator.New(engine, log, opts...)

	// 創建 WebSocket Hub
	hub := transport.NewHub(coord, transport.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		WriteWait:      cfg.WebSocket.WriteWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBufferSize: cfg.WebSocket.SendBufferSize,
	}, log)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.NewHandler(coord, hub, eventStats, log).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	// 轉送器比協調器晚停，最後的斷線事件也能送出
	forwarderCtx, stopForwarder := context.WithCancel(context.Background())
	defer stopForwarder()
	if forwarder != nil {
		g.Go(func() error {
			return forwarder.Run(forwarderCtx)
		})
	}

	// 協調器由 Stop 結束，不跟著 gctx
	g.Go(func() error {
		return coord.Run(context.Background())
	})

	// 啟動服務器
	g.Go(func() error {
		log.Info("遊戲協調服務器啟動",
			"addr", cfg.Server.Addr,
			"game", engine.Name(),
			"game_id", coord.GameID(),
			"seed", seed,
			"events", cfg.Events.Driver,
			"log_level", cfg.Log.Level,
			"log_format", cfg.Log.Format)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 優雅關閉
	g.Go(func() error {
		<-gctx.Done()
		log.Info("收到關閉信號，開始優雅關閉...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 停止接受新連接
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("服務器關閉失敗", "error", err)
		}

		// 關閉所有 WebSocket 連接，斷線事件仍會交給協調器
		hub.Stop()

		coord.Stop()
		<-coord.Done()

		stopForwarder()
		return nil
	})

	err = g.Wait()

	if forwarder != nil {
		if closeErr := forwarder.Close(); closeErr != nil {
			log.Warn("關閉事件匯流排失敗", "error", closeErr)
		}
		log.Info("事件轉送統計", "stats", forwarder.Stats())
	}
	return err
}

// newForwarder 依配置建立事件匯流排；driver 為 none 時返回 nil
func newForwarder(ctx context.Context, cfg *config.Config, log *slog.Logger) (*events.Forwarder, error) {
	var (
		publisher events.Publisher
		err       error
	)

	switch cfg.Events.Driver {
	case config.EventsDriverNATS:
		publisher, err = events.NewNATSPublisher(cfg.Events.NATS.URL, cfg.Events.Prefix)
	case config.EventsDriverRedis:
		publisher, err = events.NewRedisPublisher(ctx, events.RedisOptions{
			Addr:         cfg.Events.Redis.Addr,
			Password:     cfg.Events.Redis.Password,
			DB:           cfg.Events.Redis.DB,
			PoolSize:     cfg.Events.Redis.PoolSize,
			DialTimeout:  cfg.Events.Redis.DialTimeout,
			WriteTimeout: cfg.Events.Redis.WriteTimeout,
		}, cfg.Events.Prefix)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("事件匯流排已連接", "driver", cfg.Events.Driver, "prefix", cfg.Events.Prefix)
	return events.NewForwarder(publisher, cfg.Events.BufferSize, cfg.Events.PublishTimeout, log), nil
}
