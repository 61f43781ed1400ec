// Package api is the public surface of mlsclient: a small per-process
// registry of loaded Users keyed by user_id, plus the operations a host
// application drives them with. The registry map is mutex-guarded;
// operations on a single user_id are expected to be serialized by the
// caller.
package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/germtb/mlsclient/internal/conversation"
	"github.com/germtb/mlsclient/internal/ds"
	"github.com/germtb/mlsclient/internal/group"
	"github.com/germtb/mlsclient/internal/netconfig"
	"github.com/germtb/mlsclient/internal/store"
	"github.com/germtb/mlsclient/internal/store/badgerstore"
	"github.com/germtb/mlsclient/internal/store/jsonfile"
	"github.com/germtb/mlsclient/internal/user"
)

// StorageBackend selects which PersistentStore implementation newly
// constructed users persist through.
type StorageBackend int

const (
	// StorageJSONFile writes web3mq_<user_id>.json / web3mq_<user_id>_ks.json
	// files under the configured directory (the native backend).
	StorageJSONFile StorageBackend = iota
	// StorageBadger keeps a web3mq_mls_<user_id> Badger database per user
	// under the configured directory (the indexed-key-value backend).
	StorageBadger
)

var (
	mu    sync.Mutex
	users = map[string]*user.User{}

	storageKind StorageBackend = StorageJSONFile
	storageDir                 = "."

	// newBackend and openStore are construction seams so tests can run the
	// full registry against in-memory doubles.
	newBackend = defaultBackend
	openStore  = defaultOpenStore
)

func defaultBackend() (user.Backend, error) {
	cfg := netconfig.Current()
	client, err := ds.NewClient(cfg.BaseURL, cfg.PubKey, cfg.DIDKey, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func defaultOpenStore(userID string) (store.PersistentStore, error) {
	switch storageKind {
	case StorageBadger:
		st, err := badgerstore.Open(storageDir, userID)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		st, err := jsonfile.New(storageDir)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

// SetupNetworkingConfig applies the given Delivery Service connection
// parameters to the process-wide configuration. Empty strings leave the
// corresponding field untouched.
func SetupNetworkingConfig(baseURL, pubKey, didKey, privateKey string) {
	netconfig.Setup(baseURL, pubKey, didKey, privateKey)
}

// SetStorage selects the persistence backend and its root directory for
// users constructed after the call. Already-loaded users keep the store
// they were built with.
func SetStorage(kind StorageBackend, dir string) {
	mu.Lock()
	defer mu.Unlock()
	storageKind = kind
	if dir != "" {
		storageDir = dir
	}
}

// getUser returns the loaded User for userID, loading it from persistent
// storage on first access. A user that was never created via InitialUser
// yields an error.
func getUser(ctx context.Context, userID string) (*user.User, error) {
	mu.Lock()
	if u, ok := users[userID]; ok {
		mu.Unlock()
		return u, nil
	}
	mu.Unlock()

	backend, err := newBackend()
	if err != nil {
		return nil, err
	}
	st, err := openStore(userID)
	if err != nil {
		return nil, err
	}
	u, err := user.Load(ctx, userID, backend, st)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if cached, ok := users[userID]; ok {
		return cached, nil
	}
	users[userID] = u
	return u, nil
}

// InitialUser creates userID if it does not exist yet, else is a no-op.
// First-time creation seeds the key-package pool, registers it with the
// Delivery Service, and persists the new user.
func InitialUser(ctx context.Context, userID string) error {
	if _, err := getUser(ctx, userID); err == nil {
		return nil
	}

	backend, err := newBackend()
	if err != nil {
		return err
	}
	st, err := openStore(userID)
	if err != nil {
		return err
	}
	u, err := user.New(userID, backend, st)
	if err != nil {
		return err
	}
	u.EnableAutoSave()
	if _, _, err := u.Identity.AddKeyPackage(); err != nil {
		return fmt.Errorf("seed key package pool: %w", err)
	}
	if _, err := u.Register(ctx); err != nil {
		return err
	}
	if err := u.Save(ctx); err != nil {
		return err
	}

	mu.Lock()
	users[userID] = u
	mu.Unlock()
	logrus.WithFields(logrus.Fields{"user_id": userID}).Info("created user")
	return nil
}

// RegisterUser publishes userID's current key-package pool to the Delivery
// Service and returns a summary naming how many key packages were sent.
func RegisterUser(ctx context.Context, userID string) (string, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Register(ctx)
}

// IsMLSGroup reports whether groupID is a known local MLS group for userID.
func IsMLSGroup(ctx context.Context, userID, groupID string) bool {
	u, err := getUser(ctx, userID)
	if err != nil {
		return false
	}
	return u.HasGroup(groupID)
}

// CreateGroup builds a new MLS group named groupID owned by userID.
func CreateGroup(ctx context.Context, userID, groupID string) (string, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.CreateGroup(ctx, groupID)
}

// SyncMLSState pulls and dispatches new MLS events for groupIDs.
func SyncMLSState(ctx context.Context, userID string, groupIDs []string) error {
	u, err := getUser(ctx, userID)
	if err != nil {
		return err
	}
	return u.Update(ctx, groupIDs)
}

// CanAddMemberToGroup reports whether the Delivery Service currently holds
// a consumable key package for targetUserID. It checks by consuming one, so
// a true result removes that key package from the Delivery Service pool.
func CanAddMemberToGroup(ctx context.Context, userID, targetUserID string) bool {
	u, err := getUser(ctx, userID)
	if err != nil {
		return false
	}
	return u.CanInvite(ctx, targetUserID)
}

// AddMemberToGroup invites memberUserID into groupID.
func AddMemberToGroup(ctx context.Context, userID, memberUserID, groupID string) error {
	u, err := getUser(ctx, userID)
	if err != nil {
		return err
	}
	return u.AddMemberToGroup(ctx, memberUserID, groupID)
}

// RemoveMemberFromGroup removes the member whose credential identity equals
// memberUserID from groupID.
func RemoveMemberFromGroup(ctx context.Context, userID, memberUserID, groupID string) error {
	u, err := getUser(ctx, userID)
	if err != nil {
		return err
	}
	return u.Remove(ctx, memberUserID, groupID)
}

// MLSEncryptMsg encrypts msg for groupID and returns the hex-encoded wire
// bytes; the host transmits them to peers.
func MLSEncryptMsg(ctx context.Context, userID, msg, groupID string) (string, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.SendMsg(ctx, msg, groupID)
}

// MLSDecryptMsg returns the plaintext for contentHex, whether this user
// originated it (served from the conversation cache) or a peer did.
func MLSDecryptMsg(ctx context.Context, userID, contentHex, senderUserID, groupID string) (string, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.ReadMsg(ctx, contentHex, senderUserID, groupID)
}

// HandleMLSGroupEvent dispatches one raw inbound DS event (Welcome, commit,
// application message, or proposal) for userID.
func HandleMLSGroupEvent(ctx context.Context, userID string, raw []byte) error {
	u, err := getUser(ctx, userID)
	if err != nil {
		return err
	}
	return u.HandleMLSGroupEvent(ctx, raw)
}

// LeaveGroup removes userID's own leaf from groupID and purges the group
// locally.
func LeaveGroup(ctx context.Context, userID, groupID string) error {
	u, err := getUser(ctx, userID)
	if err != nil {
		return err
	}
	return u.LeaveGroup(ctx, groupID)
}

// JoinGroupExternally joins groupID via its published group info and an
// external commit, without waiting for an invite.
func JoinGroupExternally(ctx context.Context, userID, groupID string) error {
	u, err := getUser(ctx, userID)
	if err != nil {
		return err
	}
	return u.JoinGroupExternally(ctx, groupID)
}

// GroupIDs lists the group ids userID currently belongs to.
func GroupIDs(ctx context.Context, userID string) ([]string, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.GroupIDs(), nil
}

// GroupMembers lists groupID's active members.
func GroupMembers(ctx context.Context, userID, groupID string) ([]group.MemberInfo, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.GroupMembers(groupID)
}

// ReadConversation returns the last n messages of groupID's transcript,
// oldest first.
func ReadConversation(ctx context.Context, userID, groupID string, n int) ([]conversation.Message, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.ReadConversation(groupID, n)
}

// ConversationManifest returns the Merkle root over groupID's cached
// transcript, "" when the cache is empty.
func ConversationManifest(ctx context.Context, userID, groupID string) (string, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	m, err := u.ConversationManifest(groupID)
	if err != nil {
		return "", err
	}
	return m.RootHash, nil
}

// ExportSigningKey serializes userID's long-lived signing key to PEM for
// backup, encrypted under passphrase when one is given.
func ExportSigningKey(ctx context.Context, userID string, passphrase []byte) (string, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Identity.ExportSigningKeyPEM(passphrase)
}

// IdentityFingerprint returns a short hex fingerprint of userID's signing
// public key for out-of-band comparison.
func IdentityFingerprint(ctx context.Context, userID string) (string, error) {
	u, err := getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Identity.Fingerprint()
}

// reset drops all loaded users and restores default construction seams.
// Used by tests.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	users = map[string]*user.User{}
	storageKind = StorageJSONFile
	storageDir = "."
	newBackend = defaultBackend
	openStore = defaultOpenStore
}
