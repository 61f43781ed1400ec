package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.CipherSuite != MLSCiphersuiteID {
		t.Errorf("cipher suite = %#x, want %#x", cfg.CipherSuite, MLSCiphersuiteID)
	}
	if cfg.HTTPTimeout() != DefaultHTTPTimeout {
		t.Errorf("timeout = %v, want %v", cfg.HTTPTimeout(), DefaultHTTPTimeout)
	}
}

func TestTOMLRoundtrip(t *testing.T) {
	cfg := Default()
	cfg.HTTPTimeoutSecs = 10
	cfg.AutosaveEnabled = true

	parsed, err := FromTOML(cfg.ToTOML())
	if err != nil {
		t.Fatalf("FromTOML: %v", err)
	}
	if parsed != cfg {
		t.Errorf("roundtrip = %+v, want %+v", parsed, cfg)
	}
}

func TestFromTOMLFillsDefaults(t *testing.T) {
	parsed, err := FromTOML("[mlsclient]\nhttp_timeout_secs = 5\n")
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Version != Version {
		t.Errorf("version = %q, want default", parsed.Version)
	}
	if parsed.CipherSuite != MLSCiphersuiteID {
		t.Errorf("cipher suite = %#x, want default", parsed.CipherSuite)
	}
	if parsed.HTTPTimeout() != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", parsed.HTTPTimeout())
	}
}

func TestFromTOMLRejectsGarbage(t *testing.T) {
	if _, err := FromTOML("= not toml"); err == nil {
		t.Error("garbage TOML parsed without error")
	}
}

func TestHTTPTimeoutGuardsNonPositive(t *testing.T) {
	cfg := Config{HTTPTimeoutSecs: 0}
	if cfg.HTTPTimeout() != DefaultHTTPTimeout {
		t.Errorf("zero timeout = %v, want default", cfg.HTTPTimeout())
	}
}
