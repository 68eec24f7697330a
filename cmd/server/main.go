package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-realtime-chat/internal/api"
	"github.com/npezzotti/go-realtime-chat/internal/auth"
	"github.com/npezzotti/go-realtime-chat/internal/config"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/server"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Fatal("config: ", err)
	}
	logger.SetLevel(cfg.LogLevel)

	if cfg.UsingDefaultSigningKey() {
		logger.Warn("using the built-in signing key, set CHAT_SIGNING_KEY outside of development")
	}

	dbConn, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("db close: ", err)
		}
	}()

	statsUpdater := stats.NewStatsUpdater()
	tokens := auth.NewJWTVerifier(cfg.SigningKey)

	chatServer, err := server.NewChatServer(logger, dbConn, tokens, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server: ", err)
	}

	srv := api.NewGoChatApp(logger.WithField("component", "http"), chatServer, dbConn, tokens, statsUpdater.Handler(), cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Infof("received signal: %s", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server: ", err)
		}
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error("HTTP server shutdown: ", err)
	}

	logger.Info("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Error("chat server shutdown: ", err)
	}

	logger.Info("shutdown complete")
}
