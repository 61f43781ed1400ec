package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sort"
)

// ComputeEntryHash computes a Merkle leaf hash over one transcript entry:
// SHA-256(key || SHA-256(payload)), with the message fingerprint as key.
func ComputeEntryHash(key string, payload []byte) []byte {
	payloadHash := sha256.Sum256(payload)
	combined := append([]byte(key), payloadHash[:]...)
	h := sha256.Sum256(combined)
	return h[:]
}

// LeafHash pairs a leaf's key with its precomputed hash.
type LeafHash struct {
	Key  string
	Hash []byte
}

// ComputeMerkleRoot computes the Merkle root from a list of LeafHash entries.
// Leaves are sorted by key for deterministic ordering. Odd nodes are paired
// with themselves. Returns the hex-encoded root hash, or empty string for an empty tree.
func ComputeMerkleRoot(leaves []LeafHash) string {
	if len(leaves) == 0 {
		return ""
	}

	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].Key < leaves[j].Key
	})

	nodes := make([][]byte, len(leaves))
	for i, l := range leaves {
		nodes[i] = l.Hash
	}

	for len(nodes) > 1 {
		var nextLevel [][]byte
		for i := 0; i < len(nodes); i += 2 {
			left := nodes[i]
			right := left
			if i+1 < len(nodes) {
				right = nodes[i+1]
			}
			combined := append(left, right...)
			h := sha256.Sum256(combined)
			nextLevel = append(nextLevel, h[:])
		}
		nodes = nextLevel
	}

	return fmt.Sprintf("%x", nodes[0])
}

// SignMerkleRoot signs a Merkle root hash with Ed25519.
func SignMerkleRoot(rootHash string, privateKey ed25519.PrivateKey) []byte {
	return Sign(privateKey, []byte(rootHash))
}

// VerifyMerkleRoot verifies an Ed25519 signature on a Merkle root hash.
func VerifyMerkleRoot(rootHash string, signature []byte, publicKey ed25519.PublicKey) bool {
	return Verify(publicKey, []byte(rootHash), signature)
}

// ConversationManifest is a signed Merkle root over a conversation's cached
// messages, giving a caller a single value to compare across devices to
// detect a tampered or truncated local transcript cache.
type ConversationManifest struct {
	RootHash     string
	Signature    []byte
	Author       string
	Epoch        int
	MessageCount int
}
