// Package identity holds one user's long-lived signature keypair, the
// Basic credential binding it to the user_id, and the in-memory pool of
// freshly generated key packages awaiting consumption.
package identity

import (
	"encoding/json"
	"fmt"

	"github.com/germtb/mlsclient/internal/crypto"
	"github.com/germtb/mlsclient/internal/errs"
	"github.com/germtb/mlsclient/internal/mls"
)

// Identity is constructed once per User and never rotates its signature key
// for the user's lifetime.
type Identity struct {
	UserID string   `json:"user_id"`
	Keys   mls.Keys `json:"-"`
	state  identityState
}

type identityState struct {
	SigPriv  []byte                    `json:"sig_priv"`
	SigPub   []byte                    `json:"sig_pub"`
	InitPriv map[string][]byte         `json:"init_priv"` // keyed by hash ref (hex)
	Pool     map[string]mls.KeyPackage `json:"pool"`       // hash ref (hex) -> key package
}

// New generates a fresh signature keypair and starts with an empty pool.
func New(userID string) (*Identity, error) {
	keys, err := mls.GenerateKeys()
	if err != nil {
		return nil, fmt.Errorf("generate identity keys: %w", err)
	}
	id := &Identity{
		UserID: userID,
		Keys:   keys,
		state: identityState{
			SigPriv:  keys.SigPriv,
			SigPub:   keys.SigPub,
			InitPriv: map[string][]byte{},
			Pool:     map[string]mls.KeyPackage{},
		},
	}
	return id, nil
}

// CredentialIdentity returns the identity bytes carried in the Basic
// credential: the user_id, as UTF-8 bytes.
func (id *Identity) CredentialIdentity() []byte {
	return []byte(id.UserID)
}

// ExportSigningKeyPEM serializes the long-lived signing key to PEM for
// backup, encrypted under passphrase when one is given.
func (id *Identity) ExportSigningKeyPEM(passphrase []byte) (string, error) {
	return crypto.PrivateKeyToPEM(id.Keys.SigPriv, passphrase)
}

// Fingerprint returns a short hex fingerprint of the signing public key,
// suitable for out-of-band identity comparison between users.
func (id *Identity) Fingerprint() (string, error) {
	return crypto.PublicKeyFingerprint(id.Keys.SigPub)
}

// AddKeyPackage builds a new KeyPackage signed by the identity's keys and
// inserts it into the pool under its hash reference.
func (id *Identity) AddKeyPackage() (mls.KeyPackage, []byte, error) {
	keys, err := mls.GenerateKeys()
	if err != nil {
		return mls.KeyPackage{}, nil, fmt.Errorf("generate key package keys: %w", err)
	}
	kp := mls.BuildKeyPackage(id.CredentialIdentity(), keys)
	ref, err := kp.HashRef()
	if err != nil {
		return mls.KeyPackage{}, nil, err
	}
	id.state.Pool[hashRefKey(ref)] = kp
	id.state.InitPriv[hashRefKey(ref)] = keys.InitPriv
	return kp, ref, nil
}

// Pool returns a copy of the current key-package pool, keyed by the
// lowercase hex of each hash ref.
func (id *Identity) Pool() map[string]mls.KeyPackage {
	out := make(map[string]mls.KeyPackage, len(id.state.Pool))
	for k, v := range id.state.Pool {
		out[k] = v
	}
	return out
}

// PoolSize reports how many key packages remain unconsumed.
func (id *Identity) PoolSize() int { return len(id.state.Pool) }

// ConsumeKeyPackage removes the pool entry whose hash reference matches ref,
// returning the init private key so the caller can decrypt a Welcome
// addressed to it. It is an error to consume a hash ref not in the pool.
func (id *Identity) ConsumeKeyPackage(ref []byte) ([]byte, error) {
	k := hashRefKey(ref)
	if _, ok := id.state.Pool[k]; !ok {
		return nil, fmt.Errorf("%w: hash ref not in local pool", errs.ErrNoKeyPackage)
	}
	initPriv := id.state.InitPriv[k]
	delete(id.state.Pool, k)
	delete(id.state.InitPriv, k)
	return initPriv, nil
}

func hashRefKey(ref []byte) string {
	return fmt.Sprintf("%x", ref)
}

// persisted is the on-wire shape saved into the keystore.
type persisted struct {
	UserID   string                    `json:"user_id"`
	SigPriv  []byte                    `json:"sig_priv"`
	SigPub   []byte                    `json:"sig_pub"`
	InitPriv map[string][]byte         `json:"init_priv"`
	Pool     map[string]mls.KeyPackage `json:"pool"`
}

// ToBytes serializes the identity for the keystore.
func (id *Identity) ToBytes() ([]byte, error) {
	p := persisted{
		UserID:   id.UserID,
		SigPriv:  id.state.SigPriv,
		SigPub:   id.state.SigPub,
		InitPriv: id.state.InitPriv,
		Pool:     id.state.Pool,
	}
	return json.Marshal(p)
}

// FromBytes restores an identity persisted by ToBytes.
func FromBytes(data []byte) (*Identity, error) {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal identity: %w", err)
	}
	if p.InitPriv == nil {
		p.InitPriv = map[string][]byte{}
	}
	if p.Pool == nil {
		p.Pool = map[string]mls.KeyPackage{}
	}
	return &Identity{
		UserID: p.UserID,
		Keys: mls.Keys{
			SigPriv: p.SigPriv,
			SigPub:  p.SigPub,
		},
		state: identityState{
			SigPriv:  p.SigPriv,
			SigPub:   p.SigPub,
			InitPriv: p.InitPriv,
			Pool:     p.Pool,
		},
	}, nil
}
