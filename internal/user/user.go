// Package user implements the User orchestrator: the per-user object
// coordinating Identity, the set of joined Groups, the persistent
// keystore, and the Delivery Service adapter. It is synchronous
// internally; callers serialize their own operations on a given user_id,
// and this type takes no internal lock.
package user

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/germtb/mlsclient/internal/conversation"
	"github.com/germtb/mlsclient/internal/crypto"
	"github.com/germtb/mlsclient/internal/errs"
	"github.com/germtb/mlsclient/internal/group"
	"github.com/germtb/mlsclient/internal/identity"
	"github.com/germtb/mlsclient/internal/keystore"
	"github.com/germtb/mlsclient/internal/mls"
	"github.com/germtb/mlsclient/internal/store"
)

// Backend is the subset of internal/ds.Client the orchestrator calls
// against, factored out as an interface so tests can substitute a fake
// Delivery Service without a network round trip.
type Backend interface {
	RegisterKeyPackages(ctx context.Context, userID string, pool map[string][]byte) error
	ConsumeKeyPackage(ctx context.Context, targetUserID string) (hashRefHex string, keyPackage []byte, err error)
	SendGroupMessage(ctx context.Context, userID, groupID, recipientTopicID string, mlsMsg []byte) error
	PullGroupEvents(ctx context.Context, userID string, groupIDs []string, sinceMillis int64) ([][]byte, error)
	PublishGroupInfo(ctx context.Context, userID, groupID string, groupInfo []byte) error
	FetchGroupInfo(ctx context.Context, groupID string) ([]byte, error)
}

// User is one local participant's durable MLS state plus the adapters it
// needs to reach the Delivery Service and the backing PersistentStore.
type User struct {
	UserID           string
	Identity         *identity.Identity
	Groups           map[string]*group.Group
	KeyStore         *keystore.KeyStore
	AutosaveEnabled  bool
	MLSSyncTimestamp int64

	backend Backend
	store   store.PersistentStore
}

// New constructs a user's in-memory state only; no I/O.
func New(userID string, backend Backend, persistentStore store.PersistentStore) (*User, error) {
	id, err := identity.New(userID)
	if err != nil {
		return nil, fmt.Errorf("new identity: %w", err)
	}
	return &User{
		UserID:   userID,
		Identity: id,
		Groups:   map[string]*group.Group{},
		KeyStore: keystore.New(),
		backend:  backend,
		store:    persistentStore,
	}, nil
}

// persistedUser is the on-wire shape of the User blob: groups themselves
// are omitted and rehydrated from the keystore via GroupList on Load.
type persistedUser struct {
	UserID           string   `json:"user_id"`
	IdentityBytes    []byte   `json:"identity"`
	GroupList        []string `json:"group_list"`
	AutosaveEnabled  bool     `json:"autosave_enabled"`
	MLSSyncTimestamp int64    `json:"mls_sync_timestamp"`
}

func groupKeystoreKey(groupID string) []byte {
	return []byte("group:" + groupID)
}

// Load reads the serialized User blob from persistentStore, loads the
// keystore, then rehydrates every group named in GroupList from the
// keystore. If any step fails the whole load fails.
func Load(ctx context.Context, userID string, backend Backend, persistentStore store.PersistentStore) (*User, error) {
	blob, ok, err := persistentStore.Get(ctx, userID, store.KindUser)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: %v", errs.ErrLoadUser, err)
	}
	var p persistedUser
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("%w: unmarshal user: %v", errs.ErrLoadUser, err)
	}

	id, err := identity.FromBytes(p.IdentityBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: restore identity: %v", errs.ErrLoadUser, err)
	}

	ks := keystore.New()
	if err := ks.Load(ctx, persistentStore, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrLoadUser, err)
	}

	u := &User{
		UserID:           p.UserID,
		Identity:         id,
		Groups:           map[string]*group.Group{},
		KeyStore:         ks,
		AutosaveEnabled:  p.AutosaveEnabled,
		MLSSyncTimestamp: p.MLSSyncTimestamp,
		backend:          backend,
		store:            persistentStore,
	}

	for _, groupID := range p.GroupList {
		data, ok := ks.Read(groupKeystoreKey(groupID))
		if !ok {
			return nil, fmt.Errorf("%w: group %q missing from keystore", errs.ErrLoadUser, groupID)
		}
		g, err := group.FromBytes(data, id.Keys.SigPriv)
		if err != nil {
			return nil, fmt.Errorf("%w: restore group %q: %v", errs.ErrLoadUser, groupID, err)
		}
		u.Groups[groupID] = g
	}
	return u, nil
}

// Save persists every group's MLS state into the keystore, then the
// keystore blob, then the User blob. Ordering matters: the keystore must
// contain the MLS group state before the User blob lists it.
func (u *User) Save(ctx context.Context) error {
	groupList := make([]string, 0, len(u.Groups))
	for groupID, g := range u.Groups {
		data, err := g.ToBytes()
		if err != nil {
			return fmt.Errorf("%w: serialize group %q: %v", errs.ErrSaveUser, groupID, err)
		}
		u.KeyStore.Store(groupKeystoreKey(groupID), data)
		groupList = append(groupList, groupID)
	}

	identityBytes, err := u.Identity.ToBytes()
	if err != nil {
		return fmt.Errorf("%w: serialize identity: %v", errs.ErrSaveUser, err)
	}

	if err := u.KeyStore.Save(ctx, u.store, u.UserID); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSaveUser, err)
	}

	p := persistedUser{
		UserID:           u.UserID,
		IdentityBytes:    identityBytes,
		GroupList:        groupList,
		AutosaveEnabled:  u.AutosaveEnabled,
		MLSSyncTimestamp: u.MLSSyncTimestamp,
	}
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: marshal user: %v", errs.ErrSaveUser, err)
	}
	if err := u.store.Put(ctx, u.UserID, store.KindUser, blob); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSaveUser, err)
	}
	logrus.WithFields(logrus.Fields{"user_id": u.UserID, "groups": len(groupList)}).Debug("user state saved")
	return nil
}

// EnableAutoSave makes every subsequent state-mutating operation call Save
// at its successful tail.
func (u *User) EnableAutoSave() { u.AutosaveEnabled = true }

func (u *User) autosave(ctx context.Context) error {
	if !u.AutosaveEnabled {
		return nil
	}
	if err := u.Save(ctx); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": u.UserID, "error": err}).Error("autosave failed")
		return err
	}
	return nil
}

// Register publishes the current key-package pool to the Delivery Service.
func (u *User) Register(ctx context.Context) (string, error) {
	pool := u.Identity.Pool()
	packages := make(map[string][]byte, len(pool))
	for ref, kp := range pool {
		b, err := json.Marshal(kp)
		if err != nil {
			return "", fmt.Errorf("marshal key package %q: %w", ref, err)
		}
		packages[ref] = b
	}
	if err := u.backend.RegisterKeyPackages(ctx, u.UserID, packages); err != nil {
		return "", err
	}
	return fmt.Sprintf("registered %d key packages", len(packages)), nil
}

// GroupIDs lists the ids of groups this user currently holds locally.
func (u *User) GroupIDs() []string {
	out := make([]string, 0, len(u.Groups))
	for id := range u.Groups {
		out = append(out, id)
	}
	return out
}

// HasGroup reports whether groupID is a known local MLS group.
func (u *User) HasGroup(groupID string) bool {
	_, ok := u.Groups[groupID]
	return ok
}

// CreateGroup builds a new MLS group named groupID with ratchet-tree
// extension enabled and this user as its sole member. Fails if groupID is
// already known.
func (u *User) CreateGroup(ctx context.Context, groupID string) (string, error) {
	if u.HasGroup(groupID) {
		return "", fmt.Errorf("%w: %q", errs.ErrGroupExists, groupID)
	}
	mlsGroup, err := mls.Create([]byte(groupID), u.Identity.CredentialIdentity(), u.Identity.Keys)
	if err != nil {
		return "", fmt.Errorf("create mls group: %w", err)
	}
	u.Groups[groupID] = group.New(groupID, mlsGroup)
	logrus.WithFields(logrus.Fields{"user_id": u.UserID, "group_id": groupID}).Debug("created group")
	if err := u.autosave(ctx); err != nil {
		return "", err
	}
	return groupID, nil
}

// CanInvite reports whether the Delivery Service currently holds a
// consumable key package for targetUserID. It checks by consuming one, so a
// true result removes that key package from the Delivery Service pool.
func (u *User) CanInvite(ctx context.Context, targetUserID string) bool {
	_, _, err := u.backend.ConsumeKeyPackage(ctx, targetUserID)
	return err == nil
}

// AddMemberToGroup consumes a key package for memberUserID, adds it to
// groupID, sends the resulting commit to the group topic before merging
// locally, publishes the updated group info, then sends the Welcome
// addressed to memberUserID. The commit must reach the group topic before
// the local merge so the new member, who has not yet processed the
// Welcome, never sees a commit from the previous epoch.
func (u *User) AddMemberToGroup(ctx context.Context, memberUserID, groupID string) error {
	g, ok := u.Groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %q", errs.ErrGroupNotFound, groupID)
	}

	hashRefHex, kpBytes, err := u.backend.ConsumeKeyPackage(ctx, memberUserID)
	if err != nil {
		return err
	}
	var kp mls.KeyPackage
	if err := json.Unmarshal(kpBytes, &kp); err != nil {
		return fmt.Errorf("%w: unmarshal key package: %v", errs.ErrMalformedMessage, err)
	}
	hashRef, err := hex.DecodeString(hashRefHex)
	if err != nil {
		return fmt.Errorf("%w: hash ref not hex: %v", errs.ErrBadBase64, err)
	}

	commit, welcomePlain, groupInfo, err := g.MLS.AddMember(kp, hashRef)
	if err != nil {
		return fmt.Errorf("add member to group: %w", err)
	}

	commitWire, err := mls.WrapCommit(commit)
	if err != nil {
		return err
	}
	if err := u.backend.SendGroupMessage(ctx, u.UserID, groupID, groupID, commitWire); err != nil {
		return err
	}

	if err := g.MLS.ApplyCommit(commit); err != nil {
		return fmt.Errorf("merge pending commit: %w", err)
	}

	if err := u.backend.PublishGroupInfo(ctx, u.UserID, groupID, groupInfo); err != nil {
		return err
	}

	welcomeWire, err := mls.EncryptWelcomeForTransport(welcomePlain, hashRef, kp.InitPub)
	if err != nil {
		return err
	}
	if err := u.backend.SendGroupMessage(ctx, u.UserID, groupID, memberUserID, welcomeWire); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{"user_id": u.UserID, "group_id": groupID, "member": memberUserID}).Debug("added member to group")
	return u.autosave(ctx)
}

// Remove removes the member whose credential identity equals name from
// groupID, sends the commit, and merges locally.
func (u *User) Remove(ctx context.Context, name, groupID string) error {
	g, ok := u.Groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %q", errs.ErrGroupNotFound, groupID)
	}
	leafIndex, err := g.MLS.FindMemberIndex([]byte(name))
	if err != nil {
		return err
	}
	commit, err := g.MLS.RemoveMember(leafIndex)
	if err != nil {
		return fmt.Errorf("remove member from group: %w", err)
	}
	commitWire, err := mls.WrapCommit(commit)
	if err != nil {
		return err
	}
	if err := u.backend.SendGroupMessage(ctx, u.UserID, groupID, groupID, commitWire); err != nil {
		return err
	}
	if err := g.MLS.ApplyCommit(commit); err != nil {
		return fmt.Errorf("merge pending commit: %w", err)
	}
	logrus.WithFields(logrus.Fields{"user_id": u.UserID, "group_id": groupID, "removed": name}).Debug("removed member from group")
	return u.autosave(ctx)
}

// LeaveGroup marks this user's own leaf inactive in groupID, sends the
// resulting commit, publishes the updated group info, and purges the group
// locally.
func (u *User) LeaveGroup(ctx context.Context, groupID string) error {
	g, ok := u.Groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %q", errs.ErrGroupNotFound, groupID)
	}
	commit, err := g.MLS.Leave()
	if err != nil {
		return fmt.Errorf("leave group: %w", err)
	}
	commitWire, err := mls.WrapCommit(commit)
	if err != nil {
		return err
	}
	if err := u.backend.SendGroupMessage(ctx, u.UserID, groupID, groupID, commitWire); err != nil {
		return err
	}
	groupInfo, err := g.MLS.ExportGroupInfo()
	if err != nil {
		return err
	}
	if err := u.backend.PublishGroupInfo(ctx, u.UserID, groupID, groupInfo); err != nil {
		return err
	}
	delete(u.Groups, groupID)
	logrus.WithFields(logrus.Fields{"user_id": u.UserID, "group_id": groupID}).Debug("left group")
	return u.autosave(ctx)
}

// SendMsg encrypts text as an MLS application message, hex-encodes the wire
// bytes, caches the plaintext under that hex fingerprint (since MLS does not
// allow the sender to decrypt its own ciphertext), and returns the hex
// string for the host to transmit.
func (u *User) SendMsg(ctx context.Context, text, groupID string) (string, error) {
	g, ok := u.Groups[groupID]
	if !ok {
		return "", fmt.Errorf("%w: %q", errs.ErrGroupNotFound, groupID)
	}
	wire, err := g.MLS.CreateMessage([]byte(text), g.NextCounter())
	if err != nil {
		return "", fmt.Errorf("create application message: %w", err)
	}
	hexMsg := hex.EncodeToString(wire)
	g.Conversation.Add(conversation.Message{Text: text, Sender: u.UserID}, hexMsg)
	logrus.WithFields(logrus.Fields{"user_id": u.UserID, "group_id": groupID}).Debug("send")
	if err := u.autosave(ctx); err != nil {
		return "", err
	}
	return hexMsg, nil
}

// ReadMsg returns the plaintext for contentHex: the cached plaintext if this
// user originated the message, otherwise the result of processing it as an
// inbound MLS application message.
func (u *User) ReadMsg(ctx context.Context, contentHex, senderUserID, groupID string) (string, error) {
	g, ok := u.Groups[groupID]
	if !ok {
		return "", fmt.Errorf("%w: %q", errs.ErrGroupNotFound, groupID)
	}
	if text, ok := g.Conversation.GetCachedMessage(contentHex); ok {
		return text, nil
	}

	logrus.WithFields(logrus.Fields{"user_id": u.UserID, "group_id": groupID}).Debug("read_msg cache miss, decrypting")
	wire, err := hex.DecodeString(contentHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrMalformedMessage, err)
	}
	processed, err := g.MLS.ProcessMessage(wire)
	if err != nil {
		return "", err
	}
	if processed.Kind != mls.KindApplication {
		return "", fmt.Errorf("%w: expected application message, got %q", errs.ErrUnsupportedMessage, processed.Kind)
	}
	if !utf8.Valid(processed.Plaintext) {
		return "", errs.ErrBadUTF8
	}
	text := string(processed.Plaintext)
	g.Conversation.Add(conversation.Message{Text: text, Sender: senderUserID}, contentHex)
	if err := u.autosave(ctx); err != nil {
		return "", err
	}
	return text, nil
}

// Update pulls new MLS events for groupIDs from the Delivery Service and
// dispatches each through HandleMLSGroupEvent. Idempotent under replay: MLS
// itself rejects out-of-epoch messages.
func (u *User) Update(ctx context.Context, groupIDs []string) error {
	logrus.WithFields(logrus.Fields{"user_id": u.UserID, "groups": groupIDs}).Debug("updating")
	events, err := u.backend.PullGroupEvents(ctx, u.UserID, groupIDs, u.MLSSyncTimestamp)
	if err != nil {
		return err
	}
	for _, wire := range events {
		if err := u.HandleMLSGroupEvent(ctx, wire); err != nil {
			logrus.WithFields(logrus.Fields{"user_id": u.UserID, "error": err}).Debug("dropping undeliverable event")
		}
	}
	return u.autosave(ctx)
}

// HandleMLSGroupEvent branches on the envelope kind: Welcome bootstraps a
// new group, everything else is routed to the group it names.
func (u *User) HandleMLSGroupEvent(ctx context.Context, wire []byte) error {
	kind, _, err := mls.Unwrap(wire)
	if err != nil {
		return err
	}
	switch kind {
	case mls.KindWelcome:
		return u.joinGroup(ctx, wire)
	case mls.KindCommit, mls.KindApplication:
		return u.processProtocolMessage(ctx, wire)
	case mls.KindProposal:
		// Proposals are observed without effect; they are only applied once
		// a later commit carries them.
		logrus.WithFields(logrus.Fields{"user_id": u.UserID}).Debug("observed proposal, no state change")
		return nil
	default:
		return fmt.Errorf("%w: %q", errs.ErrUnsupportedMessage, kind)
	}
}

func (u *User) processProtocolMessage(ctx context.Context, wire []byte) error {
	groupID, err := mls.PeekGroupID(wire)
	if err != nil {
		return err
	}
	g, ok := u.Groups[string(groupID)]
	if !ok {
		return fmt.Errorf("%w: %q", errs.ErrGroupNotFound, groupID)
	}
	processed, err := g.MLS.ProcessMessage(wire)
	if err != nil {
		return err
	}
	if processed.Kind == mls.KindCommit && processed.SelfRemoved {
		delete(u.Groups, string(groupID))
		logrus.WithFields(logrus.Fields{"user_id": u.UserID, "group_id": string(groupID)}).Debug("removed from group by commit")
	}
	u.MLSSyncTimestamp = time.Now().UnixMilli()
	return u.autosave(ctx)
}

// joinGroup processes a Welcome: it retires the consumed key-package pool
// entry, bootstraps the group, inserts it (erroring if already present),
// then synthesizes and publishes a replacement key package so the pool does
// not deplete.
func (u *User) joinGroup(ctx context.Context, welcomeWire []byte) error {
	logrus.WithFields(logrus.Fields{"user_id": u.UserID}).Debug("joining group")
	_, payload, err := mls.Unwrap(welcomeWire)
	if err != nil {
		return err
	}
	hashRef, err := mls.PeekEncryptedWelcomeHashRef(payload)
	if err != nil {
		return err
	}
	initPriv, err := u.Identity.ConsumeKeyPackage(hashRef)
	if err != nil {
		return err
	}
	welcomeBytes, err := mls.DecryptWelcomeFromTransport(payload, initPriv)
	if err != nil {
		return err
	}

	keys := mls.Keys{
		SigPriv:  u.Identity.Keys.SigPriv,
		SigPub:   u.Identity.Keys.SigPub,
		InitPriv: initPriv,
	}
	mlsGroup, err := mls.JoinFromWelcome(welcomeBytes, keys)
	if err != nil {
		return err
	}
	groupID := string(mlsGroup.GroupID())
	if u.HasGroup(groupID) {
		return fmt.Errorf("%w: overrode group %q", errs.ErrGroupExists, groupID)
	}
	u.Groups[groupID] = group.New(groupID, mlsGroup)

	if _, _, err := u.Identity.AddKeyPackage(); err != nil {
		return fmt.Errorf("replenish key package pool: %w", err)
	}
	if _, err := u.Register(ctx); err != nil {
		return err
	}
	u.MLSSyncTimestamp = time.Now().UnixMilli()
	return u.autosave(ctx)
}

// JoinGroupExternally fetches groupID's published VerifiableGroupInfo and
// joins via an external commit, fanning the resulting commit out to the
// group and publishing the updated group info.
func (u *User) JoinGroupExternally(ctx context.Context, groupID string) error {
	if u.HasGroup(groupID) {
		return fmt.Errorf("%w: %q", errs.ErrGroupExists, groupID)
	}
	infoBytes, err := u.backend.FetchGroupInfo(ctx, groupID)
	if err != nil {
		return err
	}
	mlsGroup, commit, err := mls.JoinByExternalCommit(infoBytes, u.Identity.CredentialIdentity(), u.Identity.Keys)
	if err != nil {
		return fmt.Errorf("join by external commit: %w", err)
	}
	u.Groups[groupID] = group.New(groupID, mlsGroup)

	commitWire, err := mls.WrapCommit(commit)
	if err != nil {
		return err
	}
	if err := u.backend.SendGroupMessage(ctx, u.UserID, groupID, groupID, commitWire); err != nil {
		return err
	}
	updatedInfo, err := mlsGroup.ExportGroupInfo()
	if err != nil {
		return err
	}
	if err := u.backend.PublishGroupInfo(ctx, u.UserID, groupID, updatedInfo); err != nil {
		return err
	}

	if _, _, err := u.Identity.AddKeyPackage(); err != nil {
		return fmt.Errorf("replenish key package pool: %w", err)
	}
	if _, err := u.Register(ctx); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"user_id": u.UserID, "group_id": groupID}).Debug("joined group externally")
	return u.autosave(ctx)
}

// ReadConversation returns the last n messages visible in groupID's
// transcript.
func (u *User) ReadConversation(groupID string, n int) ([]conversation.Message, error) {
	g, ok := u.Groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrGroupNotFound, groupID)
	}
	return g.Conversation.Get(n), nil
}

// ConversationManifest returns a signed manifest over groupID's cached
// transcript. A host can display the root hash as a tamper-evidence value
// for the visible transcript; the root is "" when nothing is cached yet.
func (u *User) ConversationManifest(groupID string) (crypto.ConversationManifest, error) {
	g, ok := u.Groups[groupID]
	if !ok {
		return crypto.ConversationManifest{}, fmt.Errorf("%w: %q", errs.ErrGroupNotFound, groupID)
	}
	return g.SignedManifest(u.UserID), nil
}

// GroupMembers lists groupID's currently active members.
func (u *User) GroupMembers(groupID string) ([]group.MemberInfo, error) {
	g, ok := u.Groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrGroupNotFound, groupID)
	}
	return g.Members(), nil
}
