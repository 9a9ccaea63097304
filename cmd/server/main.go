package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/api"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/config"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/database"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/presence"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/server"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/stats"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/store"
	_ "github.com/lib/pq"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
	configFile     string
	logLevel       string
	logFile        string
	sendRate       float64
	sendBurst      int
	tokenTTL       time.Duration
	migrate        bool
)

func main() {
	config.LoadDotEnv()

	flag.StringVar(&addr, "addr", config.GetEnv("CHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.GetEnv("CHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", config.GetEnv("CHAT_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS and websocket upgrades")
	flag.StringVar(&configFile, "config", config.GetEnv("CHAT_CONFIG", ""), "YAML config file; flags given on the command line win")
	flag.StringVar(&logLevel, "log-level", config.GetEnv("CHAT_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.StringVar(&logFile, "log-file", config.GetEnv("CHAT_LOG_FILE", ""), "also write JSON logs to this file")
	flag.Float64Var(&sendRate, "send-rate", config.GetEnvFloat("CHAT_SEND_RATE", config.DefaultSendRate), "messages per second a user may send; 0 disables the limit")
	flag.IntVar(&sendBurst, "send-burst", config.GetEnvInt("CHAT_SEND_BURST", config.DefaultSendBurst), "burst size of the per-user send limit")
	flag.DurationVar(&tokenTTL, "token-ttl", config.DefaultTokenTTL, "session token lifetime")
	flag.BoolVar(&migrate, "migrate", true, "apply pending database migrations on start")
	flag.Parse()

	if err := config.SetFromEnv(flag.CommandLine, "allowed-origins", "CHAT_ALLOWED_ORIGINS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	bootLogger, _ := config.SetupLogger("", config.ParseLogLevel(logLevel))
	if configFile != "" {
		fc, err := config.LoadFile(configFile)
		if err != nil {
			bootLogger.Error("load config file", "error", err)
			os.Exit(1)
		}
		if err := config.ApplyFile(flag.CommandLine, fc); err != nil {
			bootLogger.Error("apply config file", "error", err)
			os.Exit(1)
		}
	}

	logger, closeLog := config.SetupLogger(logFile, config.ParseLogLevel(logLevel))
	defer closeLog()

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg.SendRate = sendRate
	cfg.SendBurst = sendBurst
	cfg.TokenTTL = tokenTTL

	if err := run(logger, cfg); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg *config.Config) error {
	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("db close", "error", err)
		}
	}()

	if migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := dbConn.Migrate(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	tracker := presence.NewTracker()

	st := store.NewStore(logger, dbConn, tracker)
	chatServer, err := server.NewChatServer(logger, tracker, st, statsUpdater)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}
	st.SetEventSink(chatServer)

	srv := api.NewChatApp(mux, logger, chatServer, st, dbConn, tracker, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		return err
	}

	logger.Info("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}
