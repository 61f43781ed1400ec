package netconfig

import "testing"

func TestSetupAppliesOnlyPresentFields(t *testing.T) {
	Setup("https://ds.example/v1", "pub-1", "did-1", "priv-1")
	if got := Current(); got.BaseURL != "https://ds.example/v1" || got.PubKey != "pub-1" {
		t.Fatalf("unexpected config after first Setup: %+v", got)
	}

	Setup("", "pub-2", "", "")
	got := Current()
	if got.BaseURL != "https://ds.example/v1" {
		t.Errorf("empty BaseURL arg should not overwrite existing value, got %q", got.BaseURL)
	}
	if got.PubKey != "pub-2" {
		t.Errorf("PubKey = %q, want pub-2", got.PubKey)
	}
	if got.DIDKey != "did-1" {
		t.Errorf("empty DIDKey arg should not overwrite existing value, got %q", got.DIDKey)
	}
}

func TestConfigHeaders(t *testing.T) {
	c := Config{PubKey: "pub", DIDKey: "did"}
	h := c.Headers()
	if h["web3mq-request-pubkey"] != "pub" {
		t.Errorf("missing pubkey header")
	}
	if h["didkey"] != "did" {
		t.Errorf("missing didkey header")
	}
}

func TestIndividualSetters(t *testing.T) {
	SetBaseURL("https://ds2.example")
	SetPubKey("pub-3")
	SetDIDKey("did-3")
	SetPrivateKey("priv-3")

	got := Current()
	if got.BaseURL != "https://ds2.example" || got.PubKey != "pub-3" ||
		got.DIDKey != "did-3" || got.PrivateKey != "priv-3" {
		t.Errorf("unexpected config after individual setters: %+v", got)
	}
}
