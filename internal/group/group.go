// Package group is the thin per-conversation wrapper: a GroupID, its
// Conversation log, and the MLS group state owned exclusively by the User
// holding it.
package group

import (
	"encoding/json"
	"fmt"

	"github.com/germtb/mlsclient/internal/conversation"
	"github.com/germtb/mlsclient/internal/crypto"
	"github.com/germtb/mlsclient/internal/mls"
)

// Group pairs one MLS group with its conversation log.
type Group struct {
	GroupID      string
	Conversation *conversation.Conversation
	MLS          *mls.Group
	counter      uint64
}

// New wraps an already-constructed MLS group with a fresh conversation log.
func New(groupID string, mlsGroup *mls.Group) *Group {
	return &Group{GroupID: groupID, Conversation: conversation.New(), MLS: mlsGroup}
}

// NextCounter returns the next application-message counter to use with
// MLS.CreateMessage, never reusing one within the group's lifetime.
func (g *Group) NextCounter() uint64 {
	c := g.counter
	g.counter++
	return c
}

// MemberInfo is read-only introspection over one group member.
type MemberInfo struct {
	Index    int
	Identity string
}

// Members returns the active members of the group, leaf index and identity.
func (g *Group) Members() []MemberInfo {
	var out []MemberInfo
	for i, m := range g.MLS.Members() {
		if !m.Active {
			continue
		}
		out = append(out, MemberInfo{Index: i, Identity: string(m.Identity)})
	}
	return out
}

// SignedManifest builds a signed manifest over the cached transcript:
// Merkle root, the author's identity signature over it, and the epoch the
// cache was observed at.
func (g *Group) SignedManifest(author string) crypto.ConversationManifest {
	root := g.Conversation.ManifestRoot()
	return crypto.ConversationManifest{
		RootHash:     root,
		Signature:    g.MLS.SignTranscriptRoot(root),
		Author:       author,
		Epoch:        g.MLS.Epoch(),
		MessageCount: g.Conversation.CacheSize(),
	}
}

// persisted is the on-wire shape saved into the keystore: the conversation
// log plus the MLS group's own serialized state.
type persisted struct {
	GroupID      string                     `json:"group_id"`
	Conversation *conversation.Conversation `json:"conversation"`
	MLSState     []byte                     `json:"mls_state"`
	Counter      uint64                     `json:"counter"`
}

// ToBytes serializes the group (conversation + MLS state) for the keystore.
func (g *Group) ToBytes() ([]byte, error) {
	mlsBytes, err := g.MLS.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize mls group: %w", err)
	}
	p := persisted{GroupID: g.GroupID, Conversation: g.Conversation, MLSState: mlsBytes, Counter: g.counter}
	return json.Marshal(p)
}

// FromBytes restores a group persisted by ToBytes. sigPriv is the owning
// user's identity signing key, threaded through to the MLS group since it
// is not itself persisted inside MLS state.
func FromBytes(data []byte, sigPriv []byte) (*Group, error) {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal group: %w", err)
	}
	mlsGroup, err := mls.FromBytes(p.MLSState, sigPriv)
	if err != nil {
		return nil, fmt.Errorf("restore mls group: %w", err)
	}
	conv := p.Conversation
	if conv == nil {
		conv = conversation.New()
	}
	return &Group{GroupID: p.GroupID, Conversation: conv, MLS: mlsGroup, counter: p.Counter}, nil
}
