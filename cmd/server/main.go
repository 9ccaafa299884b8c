package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nitter-community/nitter-status/internal/api"
	"github.com/nitter-community/nitter-status/internal/config"
	"github.com/nitter-community/nitter-status/internal/mailer"
	"github.com/nitter-community/nitter-status/internal/pkg/logger"
	"github.com/nitter-community/nitter-status/internal/scanner"
	"github.com/nitter-community/nitter-status/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetRedactMails(true)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	var mail mailer.Mailer
	if cfg.Mail.DisableAlertMails {
		log.Println("[main] alert mails disabled, logging instead")
		mail = mailer.LogMailer{}
	} else {
		mail, err = mailer.NewSES(context.Background(), cfg.Mail)
		if err != nil {
			log.Fatalf("Failed to create SES mailer: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc, err := scanner.New(ctx, cfg, st, mail)
	if err != nil {
		log.Fatalf("Failed to create scanner: %v", err)
	}
	go sc.Run(ctx)
	go sc.RunCleanup(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewServer(cfg, sc, st, mail).Handler(),
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	// Cancel background tasks
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
