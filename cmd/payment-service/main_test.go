package main

import (
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/app"
)

func mapLookup(values map[string]string) app.EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestSetupLogger(t *testing.T) {
	previous := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(previous) })

	setupLogger("debug")
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}

	setupLogger("shout")
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected fallback to info, got %s", log.GetLevel())
	}
}

func TestReadConfig_Defaults(t *testing.T) {
	cfg := readConfig(mapLookup(nil))
	if cfg != app.DefaultConfig(app.ServicePayment) {
		t.Fatalf("expected default config, got %#v", cfg)
	}
}

func TestReadConfig_InvalidValueKeepsDefault(t *testing.T) {
	cfg := readConfig(mapLookup(map[string]string{
		"SHOPSAGA_HTTP_ADDR":       "127.0.0.1:18080",
		"SHOPSAGA_REQUEST_TIMEOUT": "soon",
	}))

	if cfg.HTTPAddr != "127.0.0.1:18080" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.RequestTimeout != app.DefaultConfig(app.ServicePayment).RequestTimeout {
		t.Fatalf("invalid timeout must keep default, got %s", cfg.RequestTimeout)
	}
}
