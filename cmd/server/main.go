/*
Package main is the entry point for the Beatrice chat server.

It is responsible for loading configuration, initializing the global logging
system, starting the TCP chat listener and the HTTP gateway (health endpoint
plus WebSocket bridge), and gracefully handling operating system interrupt
signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beatrice/internal/app/chat"
	"beatrice/internal/configs"
	"beatrice/internal/handler"
	"beatrice/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("chat_addr", cfg.ChatAddr).
		Str("http_addr", cfg.HTTPAddr).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("message_rate_limit", cfg.MessageRateLimit).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Chat core: registry, router, TCP accept loop
	chatServer := chat.NewServer(cfg)

	go func() {
		if err := chatServer.ListenAndServe(); err != nil {
			logx.Fatal(err, "Chat server failed to start")
		}
	}()

	// HTTP gateway: health endpoint and WebSocket bridge
	router := handler.Router(chatServer, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Gateway starting on http://localhost%s", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Gateway failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Gateway forced to shutdown")
	}

	chatServer.Shutdown()

	logx.Info("Server gracefully stopped.")
}
