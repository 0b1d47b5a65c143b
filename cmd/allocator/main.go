package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/bootstrap"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/httpapi"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/observability"
)

func main() {
	port := strings.TrimSpace(os.Getenv("SECUREPATH_ALLOCATOR_PORT"))
	if port == "" {
		port = "8082"
	}

	shutdownTrace, err := observability.InitTracingFromEnv("securepath-allocator")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	engine, err := bootstrap.NewEngineFromEnv()
	if err != nil {
		log.Fatalf("bootstrap engine: %v", err)
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           httpapi.NewServer(engine).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("allocator listening on :%s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
