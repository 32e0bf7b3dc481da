// Package statetoken signs opaque state blobs carried through the Identity
// Vault redirect. A token is three dot-joined segments:
//
//	base64(JSON(payload + nonce)) . nonce . base64(HMAC-SHA256(secret, seg1 + "." + nonce))
//
// The nonce is also kept in the browser session, binding the token to the
// session that requested it.
package statetoken

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// NonceKey is the payload key carrying the nonce.
const NonceKey = "nonce"

var (
	ErrEmptySecret = errors.New("state secret is required")
	ErrBadNonce    = errors.New("nonce must be non-empty and must not contain '.'")
)

var strictB64 = base64.StdEncoding.Strict()

// Codec encodes and verifies state tokens with a process-wide secret.
type Codec struct {
	secret []byte
}

// New builds a Codec. Rotating the secret invalidates outstanding tokens.
func New(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &Codec{secret: append([]byte(nil), secret...)}, nil
}

// NewNonce returns 16 random bytes, hex encoded.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Encode signs payload with nonce. The payload map is not modified.
func (c *Codec) Encode(payload map[string]any, nonce string) (string, error) {
	if nonce == "" || strings.ContainsAny(nonce, ".\r\n") {
		return "", ErrBadNonce
	}
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body[NonceKey] = nonce

	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	seg := base64.StdEncoding.EncodeToString(raw)
	return seg + "." + nonce + "." + c.sign(seg, nonce), nil
}

// Decode verifies token and returns its payload, nonce included. Any
// malformed or tampered token yields ok == false.
func (c *Codec) Decode(token string) (map[string]any, bool) {
	if strings.ContainsAny(token, "\r\n") {
		return nil, false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, false
	}
	seg, nonce, sig := parts[0], parts[1], parts[2]

	got, err := strictB64.DecodeString(sig)
	if err != nil || !hmac.Equal(got, c.mac(seg, nonce)) {
		return nil, false
	}

	raw, err := strictB64.DecodeString(seg)
	if err != nil {
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return nil, false
	}
	if embedded, _ := payload[NonceKey].(string); embedded != nonce {
		return nil, false
	}
	return payload, true
}

// Verify decodes token and additionally requires its nonce to equal the one
// stored in the caller's session.
func (c *Codec) Verify(token, sessionNonce string) (map[string]any, bool) {
	payload, ok := c.Decode(token)
	if !ok || sessionNonce == "" {
		return nil, false
	}
	embedded, _ := payload[NonceKey].(string)
	if subtle.ConstantTimeCompare([]byte(embedded), []byte(sessionNonce)) != 1 {
		return nil, false
	}
	return payload, true
}

func (c *Codec) mac(seg, nonce string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(seg + "." + nonce))
	return h.Sum(nil)
}

func (c *Codec) sign(seg, nonce string) string {
	return base64.StdEncoding.EncodeToString(c.mac(seg, nonce))
}
