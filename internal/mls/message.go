package mls

import (
	"encoding/json"
	"fmt"

	"github.com/germtb/mlsclient/internal/crypto"
	"github.com/germtb/mlsclient/internal/errs"
)

// MessageKind tags what an Envelope carries, standing in for the variants
// an MlsMessageIn/MlsMessageOut would expose via .extract().
type MessageKind string

const (
	KindWelcome     MessageKind = "welcome"
	KindCommit      MessageKind = "commit"
	KindApplication MessageKind = "application"
	KindProposal    MessageKind = "proposal"
)

// Envelope is the single wire shape carried as a DS "mls_msg" blob,
// regardless of what it contains: a Welcome, a Commit, an application
// message, or a Proposal.
type Envelope struct {
	Kind    MessageKind `json:"kind"`
	Payload []byte      `json:"payload"`
}

func wrap(kind MessageKind, payload []byte) ([]byte, error) {
	b, err := json.Marshal(Envelope{Kind: kind, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// WrapWelcome wraps a Welcome payload for transport.
func WrapWelcome(welcomeBytes []byte) ([]byte, error) { return wrap(KindWelcome, welcomeBytes) }

// encryptedWelcome is the transport shape for a Welcome going over the
// Delivery Service: the consumed hash reference travels in the clear (the
// real MLS KeyPackageRef-keyed GroupSecrets list works the same way) so the
// joiner knows which pool entry to retire before it can even decrypt the
// payload; only the group secrets themselves (the Welcome JSON, which
// carries the epoch secret) are ECIES-encrypted to the joiner's init key.
type encryptedWelcome struct {
	ConsumedHashRef []byte `json:"consumed_hash_ref"`
	Ciphertext      []byte `json:"ciphertext"`
}

// EncryptWelcomeForTransport encrypts welcomeBytes (as produced by
// AddMember) to recipientInitPub and wraps the result as a KindWelcome
// envelope ready to hand to the Delivery Service adapter.
func EncryptWelcomeForTransport(welcomeBytes []byte, hashRef, recipientInitPub []byte) ([]byte, error) {
	ct, err := crypto.EncryptWelcome(recipientInitPub, welcomeBytes)
	if err != nil {
		return nil, fmt.Errorf("encrypt welcome: %w", err)
	}
	payload, err := json.Marshal(encryptedWelcome{ConsumedHashRef: hashRef, Ciphertext: ct})
	if err != nil {
		return nil, fmt.Errorf("marshal encrypted welcome: %w", err)
	}
	return wrap(KindWelcome, payload)
}

// PeekEncryptedWelcomeHashRef extracts the consumed hash reference from a
// KindWelcome envelope's payload without decrypting it, so the identity pool
// can look up the matching init private key before DecryptWelcomeFromTransport runs.
func PeekEncryptedWelcomeHashRef(payload []byte) ([]byte, error) {
	var ew encryptedWelcome
	if err := json.Unmarshal(payload, &ew); err != nil {
		return nil, fmt.Errorf("%w: unmarshal encrypted welcome: %v", errs.ErrMalformedMessage, err)
	}
	return ew.ConsumedHashRef, nil
}

// DecryptWelcomeFromTransport decrypts a KindWelcome envelope's payload with
// the joiner's init private key, returning the plaintext Welcome bytes ready
// for JoinFromWelcome.
func DecryptWelcomeFromTransport(payload []byte, recipientInitPriv []byte) ([]byte, error) {
	var ew encryptedWelcome
	if err := json.Unmarshal(payload, &ew); err != nil {
		return nil, fmt.Errorf("%w: unmarshal encrypted welcome: %v", errs.ErrMalformedMessage, err)
	}
	welcomeBytes, err := crypto.DecryptWelcome(recipientInitPriv, ew.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt welcome: %v", errs.ErrUnverifiedMessage, err)
	}
	return welcomeBytes, nil
}

// WrapCommit wraps a Commit payload for transport.
func WrapCommit(commitBytes []byte) ([]byte, error) { return wrap(KindCommit, commitBytes) }

// Unwrap parses a transmitted mls_msg envelope, returning its kind and the
// raw payload bytes still inside it.
func Unwrap(wire []byte) (MessageKind, []byte, error) {
	var e Envelope
	if err := json.Unmarshal(wire, &e); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errs.ErrMalformedMessage, err)
	}
	return e.Kind, e.Payload, nil
}

// applicationMessage is the payload carried inside a KindApplication envelope.
// GroupID rides alongside the ciphertext the way a real MLS wire message
// carries its group_id in cleartext framing, so a multi-group orchestrator
// can route an inbound envelope to the right local group before decryption.
type applicationMessage struct {
	GroupID    []byte `json:"group_id"`
	Epoch      uint64 `json:"epoch"`
	Counter    uint64 `json:"counter"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// CreateMessage encrypts plaintext as an application message under the
// given counter (which the caller must not reuse within this epoch) and
// returns the wire envelope ready to hand to the DS adapter.
func (g *Group) CreateMessage(plaintext []byte, counter uint64) ([]byte, error) {
	key := crypto.DeriveMessageKey(g.state.EpochSecret, counter, int(g.state.Epoch))
	nonce, ct, err := crypto.AESGCMEncryptAAD(key, plaintext, g.AAD())
	if err != nil {
		return nil, fmt.Errorf("encrypt application message: %w", err)
	}
	am := applicationMessage{GroupID: g.state.GroupID, Epoch: g.state.Epoch, Counter: counter, Nonce: nonce, Ciphertext: ct}
	payload, err := json.Marshal(am)
	if err != nil {
		return nil, fmt.Errorf("marshal application message: %w", err)
	}
	return wrap(KindApplication, payload)
}

// PeekGroupID extracts the group_id an inbound envelope targets without
// processing it, so an orchestrator managing several groups can route the
// envelope to the right local Group before calling ProcessMessage.
func PeekGroupID(wire []byte) ([]byte, error) {
	kind, payload, err := Unwrap(wire)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindApplication:
		var am applicationMessage
		if err := json.Unmarshal(payload, &am); err != nil {
			return nil, fmt.Errorf("%w: unmarshal application message: %v", errs.ErrMalformedMessage, err)
		}
		return am.GroupID, nil
	case KindCommit:
		var c commitEnvelope
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("%w: unmarshal commit: %v", errs.ErrMalformedMessage, err)
		}
		return c.State.GroupID, nil
	case KindProposal:
		return nil, fmt.Errorf("%w: proposal envelopes carry no group_id in this engine", errs.ErrUnsupportedMessage)
	case KindWelcome:
		return nil, fmt.Errorf("%w: welcome envelopes are routed by consumed hash ref, not group_id", errs.ErrUnsupportedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrUnsupportedMessage, kind)
	}
}

// ProcessedMessage is the outcome of dispatching one inbound Envelope.
type ProcessedMessage struct {
	Kind        MessageKind
	Plaintext   []byte
	Advanced    bool
	SelfRemoved bool
}

// ProcessMessage dispatches an inbound Envelope against g: application
// messages are decrypted, commits are merged (or flagged as self-removal),
// proposals are observed without effect. Welcome envelopes are rejected;
// callers must route those through JoinFromWelcome before a Group exists.
func (g *Group) ProcessMessage(wire []byte) (*ProcessedMessage, error) {
	kind, payload, err := Unwrap(wire)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindApplication:
		var am applicationMessage
		if err := json.Unmarshal(payload, &am); err != nil {
			return nil, fmt.Errorf("%w: unmarshal application message: %v", errs.ErrMalformedMessage, err)
		}
		if am.Epoch != g.state.Epoch {
			return nil, fmt.Errorf("%w: message epoch %d, group epoch %d", errs.ErrStaleEpoch, am.Epoch, g.state.Epoch)
		}
		key := crypto.DeriveMessageKey(g.state.EpochSecret, am.Counter, int(g.state.Epoch))
		plaintext, err := crypto.AESGCMDecryptAAD(key, am.Nonce, am.Ciphertext, g.AAD())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrUnverifiedMessage, err)
		}
		return &ProcessedMessage{Kind: KindApplication, Plaintext: plaintext}, nil

	case KindCommit:
		advanced, selfRemoved, err := g.SyncFromCommitted(payload)
		if err != nil {
			return nil, err
		}
		return &ProcessedMessage{Kind: KindCommit, Advanced: advanced, SelfRemoved: selfRemoved}, nil

	case KindProposal:
		return &ProcessedMessage{Kind: KindProposal}, nil

	case KindWelcome:
		return nil, fmt.Errorf("%w: welcome must be processed via JoinFromWelcome", errs.ErrUnsupportedMessage)

	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrUnsupportedMessage, kind)
	}
}
