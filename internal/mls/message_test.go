package mls

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/germtb/mlsclient/internal/errs"
)

func TestWrapUnwrapWelcome(t *testing.T) {
	wire, err := WrapWelcome([]byte("welcome-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	kind, payload, err := Unwrap(wire)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindWelcome {
		t.Errorf("kind = %v, want KindWelcome", kind)
	}
	if string(payload) != "welcome-bytes" {
		t.Errorf("payload = %q", payload)
	}
}

func TestProcessMessageRejectsWelcome(t *testing.T) {
	aliceKeys := mustKeys(t)
	g, err := Create([]byte("g1"), []byte("alice"), aliceKeys)
	if err != nil {
		t.Fatal(err)
	}
	wire, err := WrapWelcome([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.ProcessMessage(wire); !errors.Is(err, errs.ErrUnsupportedMessage) {
		t.Fatalf("err = %v, want ErrUnsupportedMessage", err)
	}
}

func TestProcessMessageProposalIsNoOp(t *testing.T) {
	aliceKeys := mustKeys(t)
	g, err := Create([]byte("g1"), []byte("alice"), aliceKeys)
	if err != nil {
		t.Fatal(err)
	}
	wire, err := wrap(KindProposal, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	before := g.Epoch()
	processed, err := g.ProcessMessage(wire)
	if err != nil {
		t.Fatal(err)
	}
	if processed.Kind != KindProposal {
		t.Errorf("kind = %v, want KindProposal", processed.Kind)
	}
	if g.Epoch() != before {
		t.Error("proposal must not change epoch")
	}
}

func TestProcessMessageRejectsMalformedEnvelope(t *testing.T) {
	aliceKeys := mustKeys(t)
	g, err := Create([]byte("g1"), []byte("alice"), aliceKeys)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.ProcessMessage([]byte("not json")); !errors.Is(err, errs.ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}

func TestProcessMessageRejectsStaleEpoch(t *testing.T) {
	aliceKeys := mustKeys(t)
	bobKeys := mustKeys(t)
	alice, err := Create([]byte("g1"), []byte("alice"), aliceKeys)
	if err != nil {
		t.Fatal(err)
	}
	kp := BuildKeyPackage([]byte("bob"), bobKeys)
	_, welcome, _, err := alice.AddMember(kp, []byte("ref-bob"))
	if err != nil {
		t.Fatal(err)
	}
	bob, err := JoinFromWelcome(welcome, bobKeys)
	if err != nil {
		t.Fatal(err)
	}

	// A message stamped with an epoch other than the group's current one
	// (999 here, while bob is at epoch 1) must be rejected rather than
	// silently decrypted with the wrong key.
	am := struct {
		Epoch      uint64 `json:"epoch"`
		Counter    uint64 `json:"counter"`
		Nonce      []byte `json:"nonce"`
		Ciphertext []byte `json:"ciphertext"`
	}{Epoch: 999, Counter: 0, Nonce: make([]byte, 12), Ciphertext: make([]byte, 16)}
	payload, err := json.Marshal(am)
	if err != nil {
		t.Fatal(err)
	}
	wire, err := wrap(KindApplication, payload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bob.ProcessMessage(wire); !errors.Is(err, errs.ErrStaleEpoch) {
		t.Fatalf("err = %v, want ErrStaleEpoch", err)
	}
}
