// Package netconfig holds the Delivery Service connection parameters.
//
// The source this engine is modeled on keeps these fields in a process-wide
// singleton with a mutex per field. Here the singleton (one mutex guarding
// all fields) exists only at the foreign boundary (Setup/instance below),
// for a host that cannot thread state through constructors; everywhere
// internal to this module the values are passed explicitly to constructors
// (ds.NewClient) instead.
package netconfig

import "sync"

// Config holds the Delivery Service endpoint and the caller's signing
// identity. Current returns it by value; the api package passes its fields
// to ds.NewClient.
type Config struct {
	BaseURL    string
	PubKey     string
	DIDKey     string
	PrivateKey string // hex-encoded Ed25519 private key seed (32 bytes decoded)
}

// Headers returns the header set every signed Delivery Service request
// carries.
func (c Config) Headers() map[string]string {
	return map[string]string{
		"web3mq-request-pubkey": c.PubKey,
		"didkey":                c.DIDKey,
	}
}

var (
	mu       sync.Mutex
	instance Config
)

// Setup applies the given fields to the process-wide singleton. A zero value
// in any field leaves the previously configured value untouched, matching
// the source's "apply only if present" semantics.
func Setup(baseURL, pubKey, didKey, privateKey string) {
	mu.Lock()
	defer mu.Unlock()
	if baseURL != "" {
		instance.BaseURL = baseURL
	}
	if pubKey != "" {
		instance.PubKey = pubKey
	}
	if didKey != "" {
		instance.DIDKey = didKey
	}
	if privateKey != "" {
		instance.PrivateKey = privateKey
	}
}

// Current returns a copy of the process-wide singleton's current value.
// Callers that can thread a Config explicitly should prefer constructing
// one directly rather than reading this global.
func Current() Config {
	mu.Lock()
	defer mu.Unlock()
	return instance
}

// SetBaseURL sets only the base URL field of the singleton.
func SetBaseURL(v string) { setField(func(c *Config) { c.BaseURL = v }) }

// SetPubKey sets only the pubkey field of the singleton.
func SetPubKey(v string) { setField(func(c *Config) { c.PubKey = v }) }

// SetDIDKey sets only the did_key field of the singleton.
func SetDIDKey(v string) { setField(func(c *Config) { c.DIDKey = v }) }

// SetPrivateKey sets only the private_key field of the singleton.
func SetPrivateKey(v string) { setField(func(c *Config) { c.PrivateKey = v }) }

func setField(apply func(*Config)) {
	mu.Lock()
	defer mu.Unlock()
	apply(&instance)
}
