package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"rauction/api"
)

func setupLogger(level, format string) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	args := ParseArgs()
	setupLogger(args.LogLevel, args.LogFormat)
	if err := args.LoadPublicKey(); err != nil {
		slog.Error("invalid arguments", slog.Any("error", err))
		os.Exit(1)
	}
	if err := args.Validate(); err != nil {
		slog.Error("invalid arguments", slog.Any("error", err))
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	impl, err := api.NewServer(args.ServerConfig)
	if err != nil {
		slog.Error("fail to create server", slog.Any("error", err))
		os.Exit(1)
	}
	defer impl.Close()
	impl.Start()

	srv := &http.Server{
		Addr:              args.ServerURL,
		Handler:           impl.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// SSE 是長連線，關閉時先結束所有串流
	srv.RegisterOnShutdown(impl.StopStreams)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		slog.Info("listening", slog.String("addr", args.ServerURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped unexpectedly", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("fail to shutdown server", slog.Any("error", err))
	}
}
