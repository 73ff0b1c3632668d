package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"koois.id/internal/auth"
	"koois.id/internal/config"
	"koois.id/internal/google"
	"koois.id/internal/httpapi"
	"koois.id/internal/mail"
	"koois.id/internal/obs"
	"koois.id/internal/store/pg"
)

var version = "1.2.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("BUILD_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	tokens, err := auth.NewAuthority(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("token authority: %v", err)
	}
	verifier, err := google.NewVerifier(cfg.GoogleClientID)
	if err != nil {
		log.Fatalf("google verifier: %v", err)
	}
	mailer, err := mail.NewClient(cfg.MailServerURL, cfg.MailServerAPIKey)
	if err != nil {
		log.Fatalf("mail client: %v", err)
	}

	svc, err := auth.NewService(store, tokens,
		auth.WithFederatedVerifier(verifier),
		auth.WithResetMailer(mailer),
	)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	server := httpapi.NewServer(svc, httpapi.Config{MaxRequestBytes: cfg.RequestMaxBytes})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	// Metrics live on a side listener; the primary port speaks the raw
	// one-request-per-connection protocol.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", obs.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics listen: %v", err)
		}
	}()

	obs.Info("starting identity-api", map[string]any{"version": version, "addr": cfg.ListenAddr})

	shutdown := make(chan struct{})
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		obs.Info("shutting down", nil)
		close(shutdown)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}()

	if err := server.Serve(ln, shutdown); err != nil {
		log.Fatalf("serve: %v", err)
	}
	obs.Info("stopped", nil)
}
