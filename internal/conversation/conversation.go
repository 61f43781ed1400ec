// Package conversation implements the per-group ring of recent application
// messages plus the fingerprint cache that lets a sender "read back" its
// own messages, which MLS does not allow it to decrypt locally. The cache
// is not trimmed along with the 100-message window.
package conversation

import (
	"github.com/germtb/mlsclient/internal/crypto"
)

// windowSize bounds the visible transcript to the last 100 messages.
const windowSize = 100

// Message is one entry in a conversation's visible transcript.
type Message struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

// Conversation is an ordered sequence of Message plus a fingerprint ->
// plaintext cache.
type Conversation struct {
	Messages []Message         `json:"messages"`
	Cache    map[string]string `json:"cache"`
}

// New returns an empty conversation.
func New() *Conversation {
	return &Conversation{Cache: map[string]string{}}
}

// Add appends message and, if fingerprint is non-empty, indexes its text
// under that fingerprint so a later read-back resolves without needing to
// process the corresponding ciphertext.
func (c *Conversation) Add(message Message, fingerprint string) {
	c.Messages = append(c.Messages, message)
	if len(c.Messages) > windowSize {
		c.Messages = c.Messages[len(c.Messages)-windowSize:]
	}
	if fingerprint != "" {
		if c.Cache == nil {
			c.Cache = map[string]string{}
		}
		c.Cache[fingerprint] = message.Text
	}
}

// Get returns the last n messages, oldest first.
func (c *Conversation) Get(n int) []Message {
	if n <= 0 || n > len(c.Messages) {
		n = len(c.Messages)
	}
	out := make([]Message, n)
	copy(out, c.Messages[len(c.Messages)-n:])
	return out
}

// GetCachedMessage returns the plaintext cached under fingerprint, if any.
func (c *Conversation) GetCachedMessage(fingerprint string) (string, bool) {
	text, ok := c.Cache[fingerprint]
	return text, ok
}

// CacheSize reports how many fingerprints the cache currently holds.
func (c *Conversation) CacheSize() int { return len(c.Cache) }

// ManifestRoot computes a Merkle root over (fingerprint, plaintext hash)
// pairs currently held in the cache, so a host can display one hash that
// changes whenever a message is added under a new fingerprint. The cache
// keeps entries that have left the 100-message window, so the root also
// covers those; messages added without a fingerprint do not affect it.
// Returns "" for an empty cache.
func (c *Conversation) ManifestRoot() string {
	leaves := make([]crypto.LeafHash, 0, len(c.Cache))
	for fingerprint, text := range c.Cache {
		leaves = append(leaves, crypto.LeafHash{
			Key:  fingerprint,
			Hash: crypto.ComputeEntryHash(fingerprint, []byte(text)),
		})
	}
	return crypto.ComputeMerkleRoot(leaves)
}
