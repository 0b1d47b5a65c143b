package bootstrap

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/allocation"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/capacity"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/notify"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/state"
)

// NewEngineFromEnv wires an allocation engine from the environment:
//
//	SECUREPATH_STORE          memory|postgres (default memory)
//	SECUREPATH_POSTGRES_DSN   required when store=postgres
//	SECUREPATH_ALLOC_CONFIG   optional yaml path; built-in defaults otherwise
//	SECUREPATH_NOTIFY_WEBHOOK optional webhook URL for assignment events
func NewEngineFromEnv() (*allocation.Engine, error) {
	cfg := loadConfig()

	store, err := newStore(getenv("SECUREPATH_STORE", "memory"))
	if err != nil {
		return nil, err
	}

	hour, minute := cfg.ResetClock()
	tracker := capacity.NewTracker(store, capacity.Options{
		ResetHour:       hour,
		ResetMinute:     minute,
		DefaultMaxDaily: cfg.Capacity.DefaultMaxDaily,
	})

	var notifier notify.Notifier = notify.LogNotifier{}
	if url := os.Getenv("SECUREPATH_NOTIFY_WEBHOOK"); url != "" {
		timeoutSec := getenvInt("SECUREPATH_NOTIFY_TIMEOUT_SECONDS", 5)
		notifier = notify.NewWebhookNotifier(url, time.Duration(timeoutSec)*time.Second)
	}

	return allocation.NewEngine(store, tracker, allocation.Options{
		Config:   cfg,
		Notifier: notifier,
	}), nil
}

// loadConfig never fails: a missing or malformed file falls back to the
// built-in defaults.
func loadConfig() allocation.Config {
	path := os.Getenv("SECUREPATH_ALLOC_CONFIG")
	if path == "" {
		return allocation.Default()
	}
	cfg, err := allocation.Load(path)
	if err != nil {
		log.Printf("allocation config: %v; using defaults", err)
	}
	return cfg
}

func newStore(kind string) (state.Store, error) {
	switch kind {
	case "memory":
		return state.NewMemoryStore(), nil
	case "postgres":
		dsn := os.Getenv("SECUREPATH_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("SECUREPATH_POSTGRES_DSN is required when SECUREPATH_STORE=postgres")
		}
		return state.NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported SECUREPATH_STORE value %q", kind)
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
