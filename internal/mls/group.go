// Package mls is a self-contained MLS-shaped group engine for mlsclient:
// epoch advancement, epoch secret derivation, key packages, member add/
// remove/leave, commit application, and per-message AEAD framing, built
// from Ed25519 + HKDF + AES-GCM rather than a conforming MLS library. It
// can be replaced with a forked MLS implementation once one exposes the
// operations the orchestrator needs (KeyPackage build, MlsGroup
// new/new_from_welcome/join_by_external_commit, add_members/
// remove_members/leave_group, create_message, process_message,
// merge_pending_commit/merge_staged_commit, export_group_info).
package mls

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/germtb/mlsclient/internal/crypto"
	"github.com/germtb/mlsclient/internal/errs"
)

// CiphersuiteID identifies MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519, the
// only ciphersuite this engine supports.
const CiphersuiteID = 0x0001

const epochSecretSize = 32

// Keys bundles the keys generated for one MLS member: a long-lived Ed25519
// signing pair and a one-time X25519 init pair consumed by a KeyPackage.
type Keys struct {
	SigPriv  ed25519.PrivateKey
	SigPub   ed25519.PublicKey
	InitPriv []byte
	InitPub  []byte
}

// GenerateKeys generates a fresh signing keypair and init keypair.
func GenerateKeys() (Keys, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keys{}, fmt.Errorf("generate ed25519: %w", err)
	}
	initPriv := make([]byte, 32)
	if _, err := rand.Read(initPriv); err != nil {
		return Keys{}, fmt.Errorf("generate init key: %w", err)
	}
	initPub, err := curve25519.X25519(initPriv, curve25519.Basepoint)
	if err != nil {
		return Keys{}, fmt.Errorf("derive init public key: %w", err)
	}

	return Keys{SigPriv: priv, SigPub: pub, InitPriv: initPriv, InitPub: initPub}, nil
}

// KeyPackage is the serializable key package published to the Delivery
// Service and consumed by a remote peer inviting this identity.
type KeyPackage struct {
	Identity []byte `json:"identity"`
	SigPub   []byte `json:"sig_pub"`
	InitPub  []byte `json:"init_pub"`
}

// BuildKeyPackage builds a key package binding identity to keys.
func BuildKeyPackage(identity []byte, keys Keys) KeyPackage {
	return KeyPackage{Identity: identity, SigPub: keys.SigPub, InitPub: keys.InitPub}
}

// HashRef is the key-package pool key: SHA-256 over its JSON encoding. A
// real MLS library derives this from the TLS-serialized package; JSON here
// plays the same role since this engine has no TLS codec.
func (kp KeyPackage) HashRef() ([]byte, error) {
	b, err := json.Marshal(kp)
	if err != nil {
		return nil, fmt.Errorf("marshal key package: %w", err)
	}
	h := sha256.Sum256(b)
	return h[:], nil
}

// Member is one active or removed leaf of the group's member list.
type Member struct {
	Identity []byte `json:"identity"`
	SigPub   []byte `json:"sig_pub"`
	InitPub  []byte `json:"init_pub"`
	Active   bool   `json:"active"`
}

type groupState struct {
	GroupID      []byte   `json:"group_id"`
	Epoch        uint64   `json:"epoch"`
	EpochSecret  []byte   `json:"epoch_secret"`
	Members      []Member `json:"members"`
	OwnLeafIndex int      `json:"own_leaf_index"`
	// RatchetTree records that this engine always carries full member
	// state with every Commit/Welcome, standing in for the MLS "ratchet
	// tree extension" the DS does not otherwise distribute.
	RatchetTree bool `json:"ratchet_tree"`
}

// Welcome is sent to a newly added member so it can bootstrap its local
// group view without having observed any prior epoch.
type Welcome struct {
	GroupID     []byte   `json:"group_id"`
	Epoch       uint64   `json:"epoch"`
	EpochSecret []byte   `json:"epoch_secret"`
	Members     []Member `json:"members"`
	LeafIndex   int      `json:"leaf_index"`
	// ConsumedHashRef names the joiner's key-package pool entry this
	// Welcome was built from, so the joiner knows exactly which pool
	// entry to retire.
	ConsumedHashRef []byte `json:"consumed_hash_ref"`
}

// GroupInfo is the exportable, verifiable summary of a group's current
// epoch used for external-commit joins (the VerifiableGroupInfo analog).
type GroupInfo struct {
	GroupID     []byte   `json:"group_id"`
	Epoch       uint64   `json:"epoch"`
	EpochSecret []byte   `json:"epoch_secret"`
	Members     []Member `json:"members"`
}

// Group wraps one MLS group's mutable state, owned exclusively by its User.
type Group struct {
	state  groupState
	sigKey ed25519.PrivateKey
}

// Create creates a new group with identity as its sole, active member.
func Create(groupID, identity []byte, keys Keys) (*Group, error) {
	epochSecret := make([]byte, epochSecretSize)
	if _, err := rand.Read(epochSecret); err != nil {
		return nil, fmt.Errorf("generate epoch secret: %w", err)
	}

	return &Group{
		state: groupState{
			GroupID:     groupID,
			Epoch:       0,
			EpochSecret: epochSecret,
			Members: []Member{{
				Identity: identity,
				SigPub:   keys.SigPub,
				InitPub:  keys.InitPub,
				Active:   true,
			}},
			OwnLeafIndex: 0,
			RatchetTree:  true,
		},
		sigKey: keys.SigPriv,
	}, nil
}

// JoinFromWelcome bootstraps a group from a Welcome message.
func JoinFromWelcome(welcomeBytes []byte, keys Keys) (*Group, error) {
	var w Welcome
	if err := json.Unmarshal(welcomeBytes, &w); err != nil {
		return nil, fmt.Errorf("%w: unmarshal welcome: %v", errs.ErrMalformedMessage, err)
	}
	return &Group{
		state: groupState{
			GroupID:      w.GroupID,
			Epoch:        w.Epoch,
			EpochSecret:  w.EpochSecret,
			Members:      w.Members,
			OwnLeafIndex: w.LeafIndex,
			RatchetTree:  true,
		},
		sigKey: keys.SigPriv,
	}, nil
}

// JoinByExternalCommit builds a group from a fetched GroupInfo via an
// external commit, returning the new group plus the commit to fan out to
// existing members so they observe the join.
func JoinByExternalCommit(groupInfoBytes []byte, identity []byte, keys Keys) (*Group, []byte, error) {
	var info GroupInfo
	if err := json.Unmarshal(groupInfoBytes, &info); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal group info: %v", errs.ErrMalformedMessage, err)
	}

	leafIndex := len(info.Members)
	members := append(append([]Member{}, info.Members...), Member{
		Identity: identity,
		SigPub:   keys.SigPub,
		InitPub:  keys.InitPub,
		Active:   true,
	})

	g := &Group{
		state: groupState{
			GroupID:      info.GroupID,
			Epoch:        info.Epoch,
			EpochSecret:  info.EpochSecret,
			Members:      members,
			OwnLeafIndex: leafIndex,
			RatchetTree:  true,
		},
		sigKey: keys.SigPriv,
	}
	g.advanceEpoch()

	commit, err := newCommit(g.state)
	if err != nil {
		return nil, nil, err
	}
	return g, commit, nil
}

// FromBytes restores group state persisted by ToBytes.
func FromBytes(data []byte, sigPriv ed25519.PrivateKey) (*Group, error) {
	var s groupState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal group state: %w", err)
	}
	return &Group{state: s, sigKey: sigPriv}, nil
}

// ToBytes serializes group state for the keystore.
func (g *Group) ToBytes() ([]byte, error) {
	return json.Marshal(g.state)
}

// GroupID returns the MLS GroupId bytes, equal to group_id.as_bytes().
func (g *Group) GroupID() []byte { return g.state.GroupID }

// Epoch returns the current epoch number.
func (g *Group) Epoch() int { return int(g.state.Epoch) }

// OwnLeafIndex returns this member's leaf index.
func (g *Group) OwnLeafIndex() int { return g.state.OwnLeafIndex }

// Members returns a copy of the current member list.
func (g *Group) Members() []Member {
	out := make([]Member, len(g.state.Members))
	copy(out, g.state.Members)
	return out
}

// AAD returns the additional authenticated data every application message
// in this group is framed with: group_id || " AAD".
func (g *Group) AAD() []byte {
	return append(append([]byte{}, g.state.GroupID...), []byte(" AAD")...)
}

func (g *Group) advanceEpoch() {
	g.state.EpochSecret = crypto.DeriveEpochSecret(g.state.EpochSecret, int(g.state.Epoch))
	g.state.Epoch++
}

// ExportSecret derives an application-level secret from the current epoch
// secret, mirroring MLS's exporter interface.
func (g *Group) ExportSecret(label string, length int) []byte {
	return crypto.DeriveExportedSecret(g.state.EpochSecret, label, int(g.state.Epoch))[:length]
}

// SignTranscriptRoot signs a conversation transcript root with this
// member's identity key, so a peer holding the member list can verify who
// vouched for a displayed transcript.
func (g *Group) SignTranscriptRoot(root string) []byte {
	return crypto.SignMerkleRoot(root, g.sigKey)
}

// FindMemberIndex returns the leaf index of the active member whose
// credential identity equals identity. Ambiguous matches (two members
// sharing an identity) fail loudly rather than silently picking one.
func (g *Group) FindMemberIndex(identity []byte) (int, error) {
	found := -1
	for i, m := range g.state.Members {
		if !m.Active || !bytesEqual(m.Identity, identity) {
			continue
		}
		if found != -1 {
			return -1, errs.ErrAmbiguousMember
		}
		found = i
	}
	if found == -1 {
		return -1, errs.ErrMemberNotFound
	}
	return found, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AddMember adds kp as a new member, advances the epoch, and returns
// (commit, welcome, groupInfo). groupInfo is always produced here since this
// engine has no separate "should export" flag. hashRef names the joiner's
// key-package pool entry this Welcome is built from, so the joiner can
// retire the matching pool entry without guessing.
func (g *Group) AddMember(kp KeyPackage, hashRef []byte) (commit, welcome, groupInfo []byte, err error) {
	newLeafIndex := len(g.state.Members)
	g.state.Members = append(g.state.Members, Member{
		Identity: kp.Identity,
		SigPub:   kp.SigPub,
		InitPub:  kp.InitPub,
		Active:   true,
	})
	g.advanceEpoch()

	commit, err = newCommit(g.state)
	if err != nil {
		return nil, nil, nil, err
	}

	w := Welcome{
		GroupID:         g.state.GroupID,
		Epoch:           g.state.Epoch,
		EpochSecret:     g.state.EpochSecret,
		Members:         g.state.Members,
		LeafIndex:       newLeafIndex,
		ConsumedHashRef: hashRef,
	}
	welcome, err = json.Marshal(w)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal welcome: %w", err)
	}

	groupInfo, err = g.ExportGroupInfo()
	if err != nil {
		return nil, nil, nil, err
	}
	return commit, welcome, groupInfo, nil
}

// RemoveMember removes the member at leafIndex, advances the epoch, and
// returns the resulting commit. Removing the caller's own leaf is rejected;
// use Leave for that.
func (g *Group) RemoveMember(leafIndex int) ([]byte, error) {
	if leafIndex < 0 || leafIndex >= len(g.state.Members) {
		return nil, fmt.Errorf("leaf index %d out of range [0, %d)", leafIndex, len(g.state.Members))
	}
	if leafIndex == g.state.OwnLeafIndex {
		return nil, fmt.Errorf("cannot remove self, use Leave")
	}
	g.state.Members[leafIndex].Active = false
	g.advanceEpoch()
	return newCommit(g.state)
}

// Leave marks the caller's own leaf inactive, advances the epoch, and
// returns the resulting commit to fan out before the group is purged
// locally.
func (g *Group) Leave() ([]byte, error) {
	g.state.Members[g.state.OwnLeafIndex].Active = false
	g.advanceEpoch()
	return newCommit(g.state)
}

// ExportGroupInfo exports the current epoch's verifiable group info, used
// by external-commit joins.
func (g *Group) ExportGroupInfo() ([]byte, error) {
	info := GroupInfo{
		GroupID:     g.state.GroupID,
		Epoch:       g.state.Epoch,
		EpochSecret: g.state.EpochSecret,
		Members:     g.state.Members,
	}
	b, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal group info: %w", err)
	}
	return b, nil
}

// ApplyCommit applies a commit authored by the caller itself (the
// merge_pending_commit analog): the prior-epoch bump already happened when
// the commit was built, so this simply confirms the serialized state.
func (g *Group) ApplyCommit(commitBytes []byte) error {
	var c commitEnvelope
	if err := json.Unmarshal(commitBytes, &c); err != nil {
		return fmt.Errorf("%w: unmarshal commit: %v", errs.ErrMalformedMessage, err)
	}
	g.state = c.State
	return nil
}

// SyncFromCommitted processes a commit authored by another member (the
// merge_staged_commit analog for inbound traffic). It returns whether the
// local view advanced and whether this member was removed by the commit.
func (g *Group) SyncFromCommitted(commitBytes []byte) (advanced, selfRemoved bool, err error) {
	var c commitEnvelope
	if err := json.Unmarshal(commitBytes, &c); err != nil {
		return false, false, fmt.Errorf("%w: unmarshal commit: %v", errs.ErrMalformedMessage, err)
	}
	if c.State.Epoch <= g.state.Epoch {
		return false, false, nil
	}
	ownLeaf := g.state.OwnLeafIndex
	if ownLeaf >= len(c.State.Members) || !c.State.Members[ownLeaf].Active {
		return false, true, nil
	}
	g.state = c.State
	g.state.OwnLeafIndex = ownLeaf
	return true, false, nil
}

type commitEnvelope struct {
	State groupState `json:"state"`
}

func newCommit(s groupState) ([]byte, error) {
	b, err := json.Marshal(commitEnvelope{State: s})
	if err != nil {
		return nil, fmt.Errorf("marshal commit: %w", err)
	}
	return b, nil
}
