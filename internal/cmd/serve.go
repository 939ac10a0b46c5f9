package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/polyrelay/polyrelay/internal/config"
	"github.com/polyrelay/polyrelay/internal/credential"
	"github.com/polyrelay/polyrelay/internal/logger"
	"github.com/polyrelay/polyrelay/internal/pool"
	"github.com/polyrelay/polyrelay/internal/quota"
	"github.com/polyrelay/polyrelay/internal/server"
	"github.com/polyrelay/polyrelay/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pool service",
	Long:  `Start the account pool service with the ops API`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().Int("port", 8050, "server port")
	serveCmd.Flags().String("mode", "release", "server mode (debug/release/test)")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.mode", serveCmd.Flags().Lookup("mode"))
}

func runServe(cmd *cobra.Command, args []string) error {
	// 加载或创建配置
	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 初始化日志，debug模式下使用开发日志
	var log *zap.Logger
	if cfg.Server.Mode == "debug" {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.Logging)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting Polyrelay",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	// 打开存储
	bridge, err := openBridge(cfg, log)
	if err != nil {
		log.Error("Failed to open storage", zap.Error(err))
		return err
	}
	defer bridge.Close()

	// 加载账号配置
	accounts, err := storage.LoadAccountConfigs(bridge, log)
	if err != nil {
		log.Error("Failed to load accounts", zap.Error(err))
		return err
	}

	// 构建账号池
	issuer := credential.NewHTTPIssuer(
		cfg.Upstream.BaseURL,
		cfg.Upstream.UserAgent,
		&http.Client{Timeout: cfg.Upstream.Timeout},
		log,
	)
	p, err := pool.New(accounts, pool.Options{
		Cooldowns: quota.Durations{
			Text:   cfg.Pool.TextCooldown,
			Images: cfg.Pool.ImagesCooldown,
			Videos: cfg.Pool.VideosCooldown,
		},
		SessionTTL: cfg.Pool.SessionTTL,
		Issuer:     issuer,
		Logger:     log,
	})
	if err != nil {
		log.Error("Failed to build account pool", zap.Error(err))
		return err
	}

	// 创建服务器
	srv, err := server.New(cfg, log, bridge, p)
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		return err
	}

	// 会话缓存定期清理
	sched := cron.New()
	if _, err := sched.AddFunc("@every 5m", func() {
		srv.Pool().SweepSessions()
	}); err != nil {
		log.Error("Failed to schedule session sweep", zap.Error(err))
		return err
	}
	sched.Start()
	defer sched.Stop()

	// 启动HTTP服务器
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 优雅关闭
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("Server started", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-stop
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("Server stopped gracefully")
	return nil
}

// openBridge creates the storage bridge, ensuring the sqlite directory exists.
func openBridge(cfg *config.Config, log *zap.Logger) (*storage.Bridge, error) {
	if cfg.Storage.DatabaseURL == "" && cfg.Storage.SQLitePath != "" {
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
			}
		}
	}
	return storage.Open(storage.Config{
		DatabaseURL: cfg.Storage.DatabaseURL,
		SQLitePath:  cfg.Storage.SQLitePath,
	}, log)
}
