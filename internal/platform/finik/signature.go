package finik

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var ErrSignatureMismatch = errors.New("finik signature mismatch")

// Signer produces RSA-SHA256 signatures with the merchant private key.
type Signer struct {
	key *rsa.PrivateKey
}

func NewSigner(key *rsa.PrivateKey) *Signer { return &Signer{key: key} }

// NewSignerFromPEM loads the merchant key from configuration text.
func NewSignerFromPEM(raw string) (*Signer, error) {
	key, err := LoadPrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// Sign returns the base64 PKCS#1 v1.5 signature of the SHA-256 digest of canonical.
func (s *Signer) Sign(canonical string) (string, error) {
	if s == nil || s.key == nil {
		return "", &KeyFormatError{Reason: "merchant private key is not configured"}
	}
	digest := sha256.Sum256([]byte(canonical))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign canonical string: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKey exposes the public half, the key the gateway verifies merchant
// requests with.
func (s *Signer) PublicKey() *rsa.PublicKey {
	if s == nil || s.key == nil {
		return nil
	}
	return &s.key.PublicKey
}

// Verifier checks gateway signatures with the gateway public key.
type Verifier struct {
	key *rsa.PublicKey
	log *zap.SugaredLogger
}

func NewVerifier(key *rsa.PublicKey, log *zap.SugaredLogger) *Verifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Verifier{key: key, log: log}
}

func NewVerifierFromPEM(raw string, log *zap.SugaredLogger) (*Verifier, error) {
	key, err := LoadPublicKey(raw)
	if err != nil {
		return nil, err
	}
	return NewVerifier(key, log), nil
}

// Verify reports whether signatureB64 is a valid signature of canonical.
// Malformed input is a verification failure, never an error.
func (v *Verifier) Verify(canonical, signatureB64 string) bool {
	if v == nil || v.key == nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureB64))
	if err != nil {
		v.log.Warnw("finik_signature_malformed", "error", err.Error(), "signature_len", len(signatureB64))
		return false
	}
	digest := sha256.Sum256([]byte(canonical))
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], sig); err != nil {
		v.log.Warnw("finik_signature_invalid", "error", err.Error())
		return false
	}
	return true
}
