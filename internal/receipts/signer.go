package receipts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

const signatureValidity = 30 * 24 * time.Hour

// Signer signs receipt payloads with HMAC-SHA256.
type Signer struct {
	secret []byte
}

// NewSigner creates a new HMAC signer. If secret is empty, signing is disabled.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

// Sign computes HMAC-SHA256 of the canonical JSON of payload and returns
// the signature with its validity window starting at now.
func (s *Signer) Sign(payload any, now time.Time) (signature string, issuedAt, expiresAt time.Time, err error) {
	mac, err := s.mac(payload)
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	issuedAt = now.UTC().Truncate(time.Second)
	return mac, issuedAt, issuedAt.Add(signatureValidity), nil
}

// Verify checks the HMAC-SHA256 signature of the canonical JSON payload.
func (s *Signer) Verify(payload any, signature string) bool {
	if s == nil {
		return false
	}
	expected, err := s.mac(payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Signer) mac(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
