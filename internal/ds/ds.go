// Package ds is the signed Delivery Service HTTP adapter: it translates
// between MLS wire messages and the DS's JSON/HTTP surface, signing every
// state-changing request with a SHA-256 payload hash and a hex-encoded
// Ed25519 signature over it.
package ds

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/germtb/mlsclient/internal/crypto"
	"github.com/germtb/mlsclient/internal/errs"
)

// Client is the signed HTTP client talking to the Delivery Service.
type Client struct {
	baseURL    string
	pubKey     string
	didKey     string
	privateKey ed25519.PrivateKey
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient builds a Client. privateKeyHex must decode to exactly 32 bytes.
func NewClient(baseURL, pubKey, didKey, privateKeyHex string, opts ...Option) (*Client, error) {
	keyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBadPrivateKey, err)
	}
	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", errs.ErrBadPrivateKey, ed25519.SeedSize, len(keyBytes))
	}

	c := &Client{
		baseURL:    baseURL,
		pubKey:     pubKey,
		didKey:     didKey,
		privateKey: ed25519.NewKeyFromSeed(keyBytes),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// nowMillis returns the current time in milliseconds since the Unix epoch.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// sign computes the payload hash and signature for one outbound request:
// payload_hash = lowercase_hex(SHA256(user_id || body || decimal(timestamp)));
// signature = lowercase_hex(Ed25519-sign(priv, payload_hash)).
func (c *Client) sign(userID, body string, timestamp int64) (payloadHash, signature string) {
	h := sha256.Sum256([]byte(userID + body + strconv.FormatInt(timestamp, 10)))
	payloadHash = hex.EncodeToString(h[:])
	signature = crypto.SignHex(c.privateKey, payloadHash)
	return payloadHash, signature
}

func (c *Client) do(ctx context.Context, path string, reqBody interface{}, result interface{}) error {
	b, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("ERROR: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("web3mq-request-pubkey", c.pubKey)
	req.Header.Set("didkey", c.didKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logrus.WithFields(logrus.Fields{"path": path, "error": err}).Error("delivery service request failed")
		return fmt.Errorf("ERROR: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ERROR: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{"path": path, "status": resp.StatusCode}).Warn("delivery service returned non-200")
		return fmt.Errorf("Error status code %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("Error decoding server response")
		}
	}
	logrus.WithFields(logrus.Fields{"path": path, "status": resp.StatusCode}).Debug("delivery service request ok")
	return nil
}

// --- POST /api/user/key_package/ ---

type registerKeyPackagesRequest struct {
	UserID               string            `json:"userid"`
	Timestamp            int64             `json:"timestamp"`
	KeyPackages          map[string]string `json:"key_packages"`
	PayloadHash          string            `json:"payload_hash"`
	Web3mqUserSignature  string            `json:"web3mq_user_signature"`
}

// RegisterKeyPackages publishes userID's current key-package pool, keyed by
// hash ref (hex) -> base64-url-safe(key package bytes).
func (c *Client) RegisterKeyPackages(ctx context.Context, userID string, pool map[string][]byte) error {
	kp := make(map[string]string, len(pool))
	for ref, kpBytes := range pool {
		kp[ref] = crypto.B64Encode(kpBytes, true)
	}
	body, err := json.Marshal(kp)
	if err != nil {
		return fmt.Errorf("marshal key packages: %w", err)
	}
	ts := nowMillis()
	payloadHash, sig := c.sign(userID, string(body), ts)

	req := registerKeyPackagesRequest{
		UserID:              userID,
		Timestamp:           ts,
		KeyPackages:         kp,
		PayloadHash:         payloadHash,
		Web3mqUserSignature: sig,
	}
	return c.do(ctx, "/api/user/key_package/", req, nil)
}

// --- POST /api/user/get_key_package/ ---

type consumeKeyPackageRequest struct {
	TargetUserID string `json:"target_userid"`
	Timestamp    int64  `json:"timestamp"`
}

type consumeKeyPackageResponse struct {
	Data struct {
		KeyPackages map[string]string `json:"key_packages"`
	} `json:"data"`
}

// ConsumeKeyPackage reserves and retrieves one key package for targetUserID,
// returning the hash ref (hex) and the raw key package bytes. It takes the
// last entry in iteration order.
func (c *Client) ConsumeKeyPackage(ctx context.Context, targetUserID string) (hashRefHex string, keyPackage []byte, err error) {
	req := consumeKeyPackageRequest{TargetUserID: targetUserID, Timestamp: nowMillis()}
	var resp consumeKeyPackageResponse
	if err := c.do(ctx, "/api/user/get_key_package/", req, &resp); err != nil {
		return "", nil, err
	}
	if len(resp.Data.KeyPackages) == 0 {
		return "", nil, fmt.Errorf("%w: for user %q", errs.ErrNoKeyPackage, targetUserID)
	}
	for ref, b64 := range resp.Data.KeyPackages {
		hashRefHex = ref
		decoded, derr := crypto.B64Decode(b64, true)
		if derr != nil {
			return "", nil, fmt.Errorf("Error decoding server response")
		}
		keyPackage = decoded
	}
	return hashRefHex, keyPackage, nil
}

// --- POST /api/group/mls_state/ ---

type sendGroupMessageRequest struct {
	UserID               string `json:"userid"`
	Timestamp            int64  `json:"timestamp"`
	Web3mqUserSignature  string `json:"web3mq_user_signature"`
	PayloadHash          string `json:"payload_hash"`
	MLSMsg               string `json:"mls_msg"`
	GroupID              string `json:"groupid"`
	RecipientsTopicID    string `json:"recipients_topicid"`
}

// SendGroupMessage sends a Welcome, a commit, or an application message to
// recipientTopicID within groupID. body for signing is
// group_id || recipient || mls_msg_b64.
func (c *Client) SendGroupMessage(ctx context.Context, userID, groupID, recipientTopicID string, mlsMsg []byte) error {
	msgB64 := crypto.B64Encode(mlsMsg, false)
	ts := nowMillis()
	body := groupID + recipientTopicID + msgB64
	payloadHash, sig := c.sign(userID, body, ts)

	req := sendGroupMessageRequest{
		UserID:              userID,
		Timestamp:           ts,
		Web3mqUserSignature: sig,
		PayloadHash:         payloadHash,
		MLSMsg:              msgB64,
		GroupID:             groupID,
		RecipientsTopicID:   recipientTopicID,
	}
	return c.do(ctx, "/api/group/mls_state/", req, nil)
}

// --- POST /api/group/get_mls_state/ ---

type pullGroupEventsRequest struct {
	UserID               string   `json:"userid"`
	Timestamp            int64    `json:"timestamp"`
	Web3mqUserSignature  string   `json:"web3mq_user_signature"`
	PayloadHash          string   `json:"payload_hash"`
	GroupIDList          []string `json:"groupid_list"`
	TimestampGte         int64    `json:"timestamp_gte"`
}

type pullGroupEventsResponse struct {
	Data struct {
		MLSStates map[string][]string `json:"mls_states"`
	} `json:"data"`
}

// PullGroupEvents pulls new inbound MLS events for groupIDs since
// sinceMillis, the caller's last successful sync timestamp. Events from
// every group are concatenated in map iteration order into one slice of
// raw envelope bytes.
func (c *Client) PullGroupEvents(ctx context.Context, userID string, groupIDs []string, sinceMillis int64) ([][]byte, error) {
	idsJSON, err := json.Marshal(groupIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal group id list: %w", err)
	}
	ts := nowMillis()
	payloadHash, sig := c.sign(userID, string(idsJSON), ts)

	req := pullGroupEventsRequest{
		UserID:              userID,
		Timestamp:           ts,
		Web3mqUserSignature: sig,
		PayloadHash:         payloadHash,
		GroupIDList:         groupIDs,
		TimestampGte:        sinceMillis,
	}
	var resp pullGroupEventsResponse
	if err := c.do(ctx, "/api/group/get_mls_state/", req, &resp); err != nil {
		return nil, err
	}

	var out [][]byte
	for _, msgs := range resp.Data.MLSStates {
		for _, m := range msgs {
			decoded, derr := crypto.B64Decode(m, false)
			if derr != nil {
				return nil, fmt.Errorf("Error decoding server response")
			}
			out = append(out, decoded)
		}
	}
	return out, nil
}

// --- POST /api/group/publish_group_info/ and /api/group/get_group_info/ ---

type publishGroupInfoRequest struct {
	UserID               string `json:"userid"`
	Timestamp            int64  `json:"timestamp"`
	Web3mqUserSignature  string `json:"web3mq_user_signature"`
	PayloadHash          string `json:"payload_hash"`
	GroupID              string `json:"groupid"`
	GroupInfo            string `json:"group_info"`
}

// PublishGroupInfo publishes groupInfo (the VerifiableGroupInfo analog) for
// groupID, following the same signing discipline as SendGroupMessage.
func (c *Client) PublishGroupInfo(ctx context.Context, userID, groupID string, groupInfo []byte) error {
	infoB64 := crypto.B64Encode(groupInfo, false)
	ts := nowMillis()
	body := groupID + infoB64
	payloadHash, sig := c.sign(userID, body, ts)

	req := publishGroupInfoRequest{
		UserID:              userID,
		Timestamp:           ts,
		Web3mqUserSignature: sig,
		PayloadHash:         payloadHash,
		GroupID:             groupID,
		GroupInfo:           infoB64,
	}
	return c.do(ctx, "/api/group/publish_group_info/", req, nil)
}

type fetchGroupInfoRequest struct {
	GroupID   string `json:"groupid"`
	Timestamp int64  `json:"timestamp"`
}

type fetchGroupInfoResponse struct {
	Data struct {
		GroupInfo string `json:"group_info"`
	} `json:"data"`
}

// FetchGroupInfo fetches the VerifiableGroupInfo for groupID, used by
// external-commit joins.
func (c *Client) FetchGroupInfo(ctx context.Context, groupID string) ([]byte, error) {
	req := fetchGroupInfoRequest{GroupID: groupID, Timestamp: nowMillis()}
	var resp fetchGroupInfoResponse
	if err := c.do(ctx, "/api/group/get_group_info/", req, &resp); err != nil {
		return nil, err
	}
	decoded, err := crypto.B64Decode(resp.Data.GroupInfo, false)
	if err != nil {
		return nil, fmt.Errorf("Error decoding server response")
	}
	return decoded, nil
}
