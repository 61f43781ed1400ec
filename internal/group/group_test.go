package group

import (
	"testing"

	"github.com/germtb/mlsclient/internal/conversation"
	"github.com/germtb/mlsclient/internal/crypto"
	"github.com/germtb/mlsclient/internal/mls"
)

func newTestGroup(t *testing.T, groupID, identity string) (*Group, mls.Keys) {
	t.Helper()
	keys, err := mls.GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	mlsGroup, err := mls.Create([]byte(groupID), []byte(identity), keys)
	if err != nil {
		t.Fatal(err)
	}
	return New(groupID, mlsGroup), keys
}

func TestNextCounterNeverRepeats(t *testing.T) {
	g, _ := newTestGroup(t, "g1", "Alice")
	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		c := g.NextCounter()
		if seen[c] {
			t.Fatalf("counter %d repeated", c)
		}
		seen[c] = true
	}
}

func TestMembersSkipsInactive(t *testing.T) {
	g, _ := newTestGroup(t, "g1", "Alice")

	bobKeys, err := mls.GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	kp := mls.BuildKeyPackage([]byte("Bob"), bobKeys)
	ref, err := kp.HashRef()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := g.MLS.AddMember(kp, ref); err != nil {
		t.Fatal(err)
	}
	idx, err := g.MLS.FindMemberIndex([]byte("Bob"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.MLS.RemoveMember(idx); err != nil {
		t.Fatal(err)
	}

	members := g.Members()
	if len(members) != 1 || members[0].Identity != "Alice" {
		t.Errorf("members = %+v, want just Alice", members)
	}
}

func TestSignedManifestVerifies(t *testing.T) {
	g, keys := newTestGroup(t, "g1", "Alice")
	g.Conversation.Add(conversation.Message{Text: "hi", Sender: "Alice"}, "fp1")

	m := g.SignedManifest("Alice")
	if m.RootHash == "" {
		t.Fatal("manifest root empty for non-empty cache")
	}
	if m.Author != "Alice" || m.MessageCount != 1 {
		t.Errorf("manifest metadata = %+v", m)
	}
	if m.Epoch != g.MLS.Epoch() {
		t.Errorf("manifest epoch = %d, want %d", m.Epoch, g.MLS.Epoch())
	}
	if !crypto.VerifyMerkleRoot(m.RootHash, m.Signature, keys.SigPub) {
		t.Error("manifest signature does not verify with the author's key")
	}
}

func TestToBytesFromBytesPreservesConversationAndCounter(t *testing.T) {
	g, keys := newTestGroup(t, "g1", "Alice")
	g.Conversation.Add(conversation.Message{Text: "hi", Sender: "Alice"}, "fp1")
	g.NextCounter()
	g.NextCounter()
	wantEpoch := g.MLS.Epoch()

	data, err := g.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	restored, err := FromBytes(data, keys.SigPriv)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	if restored.GroupID != "g1" {
		t.Errorf("group id = %q", restored.GroupID)
	}
	if restored.MLS.Epoch() != wantEpoch {
		t.Errorf("epoch = %d, want %d", restored.MLS.Epoch(), wantEpoch)
	}
	if text, ok := restored.Conversation.GetCachedMessage("fp1"); !ok || text != "hi" {
		t.Errorf("cached message = %q, %v", text, ok)
	}
	if c := restored.NextCounter(); c != 2 {
		t.Errorf("restored counter = %d, want 2", c)
	}
}
