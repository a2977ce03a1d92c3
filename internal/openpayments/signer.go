package openpayments

import (
	"crypto/ed25519"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// signatureLabel is the label used in Signature and Signature-Input.
const signatureLabel = "sig1"

// Signer produces HTTP message signatures (RFC 9421) with an Ed25519 key
// registered on the client's wallet address.
type Signer struct {
	keyID string
	key   ed25519.PrivateKey
	now   func() time.Time
}

// NewSigner creates a signer from a raw Ed25519 private key.
func NewSigner(keyID string, key ed25519.PrivateKey) (*Signer, error) {
	if keyID == "" {
		return nil, errors.New("key id is required")
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	return &Signer{keyID: keyID, key: key, now: time.Now}, nil
}

// LoadSigner reads a PKCS#8 PEM key file. The file may also hold the PEM
// document base64-encoded, which is how wallet dashboards hand keys out.
func LoadSigner(keyID, path string) (*Signer, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyID, key)
}

// ParsePrivateKey decodes an Ed25519 key from PEM or base64-wrapped PEM.
func ParsePrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, errors.New("private key is neither PEM nor base64-encoded PEM")
		}
		block, _ = pem.Decode(decoded)
		if block == nil {
			return nil, errors.New("no PEM block found in private key")
		}
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ed25519", parsed)
	}
	return key, nil
}

// KeyID returns the key identifier advertised in Signature-Input.
func (s *Signer) KeyID() string { return s.keyID }

// Sign adds Content-Digest (when body is non-empty), Signature-Input and
// Signature headers to req. The body must be exactly what will be sent.
func (s *Signer) Sign(req *http.Request, body []byte) error {
	components := []string{"@method", "@target-uri"}
	if req.Header.Get("Authorization") != "" {
		components = append(components, "authorization")
	}
	if len(body) > 0 {
		sum := sha512.Sum512(body)
		req.Header.Set("Content-Digest", "sha-512=:"+base64.StdEncoding.EncodeToString(sum[:])+":")
		req.Header.Set("Content-Length", strconv.Itoa(len(body)))
		components = append(components, "content-digest", "content-length", "content-type")
	}

	params := signatureParams(components, s.keyID, s.now().Unix())
	base, err := signatureBase(req, components, params)
	if err != nil {
		return err
	}

	sig := ed25519.Sign(s.key, []byte(base))
	req.Header.Set("Signature-Input", signatureLabel+"="+params)
	req.Header.Set("Signature", signatureLabel+"=:"+base64.StdEncoding.EncodeToString(sig)+":")
	return nil
}

func signatureParams(components []string, keyID string, created int64) string {
	quoted := make([]string, len(components))
	for i, c := range components {
		quoted[i] = strconv.Quote(c)
	}
	return fmt.Sprintf("(%s);keyid=%s;created=%d", strings.Join(quoted, " "), strconv.Quote(keyID), created)
}

// signatureBase builds the canonical string covered by the signature.
func signatureBase(req *http.Request, components []string, params string) (string, error) {
	var b strings.Builder
	for _, c := range components {
		var value string
		switch c {
		case "@method":
			value = strings.ToUpper(req.Method)
		case "@target-uri":
			value = req.URL.String()
		default:
			value = strings.TrimSpace(req.Header.Get(c))
			if value == "" {
				return "", fmt.Errorf("signature component %q missing from request", c)
			}
		}
		fmt.Fprintf(&b, "%q: %s\n", c, value)
	}
	fmt.Fprintf(&b, "%q: %s", "@signature-params", params)
	return b.String(), nil
}
