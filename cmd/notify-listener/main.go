package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lisuiheng/booking-notify/core"
	"github.com/lisuiheng/booking-notify/logger"
	"github.com/lisuiheng/booking-notify/storage"
)

func main() {
	// 定义命令行参数
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/booking-notify/config.yaml)")
	subject := flag.String("subject", "", "Subject id to listen for (overrides identity.subject_id)")
	role := flag.String("role", "", "Subject role, customer or admin (overrides identity.role)")
	token := flag.String("token", "", "Auth token (overrides auth.token_file)")
	remember := flag.Bool("remember", false, "Store -token in auth.token_file for later runs")
	debug := flag.Bool("debug", false, "Log at debug level to stdout")
	flag.Parse()

	// 加载配置
	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logCfg := cfg.Logging
	if *debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}
	if err := logger.Init(logCfg); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logger.Info("Shutting down notification listener")

	id := core.Identity{
		SubjectID: firstNonEmpty(*subject, cfg.Identity.SubjectID),
		Role:      firstNonEmpty(*role, cfg.Identity.Role),
		AuthToken: *token,
	}

	opts := []core.Option{core.WithLogger(logger.Logger())}
	if cfg.Auth.TokenFile != "" {
		store, err := storage.NewFileTokenStore(cfg.Auth.TokenFile)
		if err != nil {
			logger.Error("Failed to open token store", "path", cfg.Auth.TokenFile, "error", err)
			os.Exit(1)
		}
		if *remember && *token != "" {
			if err := store.Save(*token); err != nil {
				logger.Error("Failed to store token", "error", err)
				os.Exit(1)
			}
		}
		opts = append(opts, core.WithTokenSource(store))
	}

	manager, err := core.New(cfg, opts...)
	if err != nil {
		logger.Error("Failed to create notification manager", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("Failed to close manager", "error", err)
		}
	}()

	subscribe(manager)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting notification listener", "subject_id", id.SubjectID, "role", id.Role)
	manager.Connect(id)

	// 等待终止信号
	<-ctx.Done()
	logger.Info("Received signal, shutting down")
	manager.Disconnect()
}

// subscribe logs every category the booking backend sends.
func subscribe(m *core.Manager) {
	m.Subscribe(core.CategoryConnection, func(ev core.Event) {
		logger.Info("Connection status changed", "connected", ev.Connected, "attempts", m.Attempts())
	})
	m.Subscribe(core.CategoryError, func(ev core.Event) {
		logger.Warn("Notification channel error", "error", ev.Err)
	})

	for _, category := range []string{
		core.CategoryNotification,
		core.CategoryBookingUpdate,
		core.CategoryNewBooking,
		core.CategoryBookingConfirmed,
	} {
		m.Subscribe(category, logNotice)
	}
}

func logNotice(ev core.Event) {
	n, err := core.DecodeNotice(ev)
	if err != nil {
		logger.Warn("Undecodable notification", "category", ev.Category, "error", err)
		return
	}
	args := []any{"category", ev.Category, "type", n.Type, "message", n.Message}
	if n.Booking != nil {
		args = append(args, "booking_id", n.Booking.ID, "service", n.Booking.Service, "amount", n.Booking.Amount)
	}
	logger.Info("Notification received", args...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
