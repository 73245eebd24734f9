package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bjaus/conduit"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig("")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Addr != ":8080" || cfg.Transport != "inproc" {
			t.Errorf("defaults = %+v", cfg)
		}
	})

	t.Run("file then env override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte("addr: \":9000\"\ntransport: nats\nlog_level: debug\n")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		t.Setenv("CHAT_ADDR", ":9999")

		cfg, err := loadConfig(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Addr != ":9999" {
			t.Errorf("addr = %q, env should win", cfg.Addr)
		}
		if cfg.Transport != "nats" || cfg.LogLevel != "debug" {
			t.Errorf("file values lost: %+v", cfg)
		}
	})

	t.Run("unknown transport", func(t *testing.T) {
		t.Setenv("CHAT_TRANSPORT", "carrier-pigeon")
		if _, err := loadConfig(""); err == nil {
			t.Error("expected error for unknown transport")
		}
	})
}

func TestBuildRegistry(t *testing.T) {
	reg, err := buildRegistry(conduit.Config{CompletionSignals: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, action := range []string{"ping", "chat", "join", "leave"} {
		if _, ok := reg.ClientUnion().Lookup(action); !ok {
			t.Errorf("client action %q not registered", action)
		}
	}
	if _, ok := reg.EventUnion().Lookup("job_done"); !ok {
		t.Error("event action job_done not registered")
	}
}
