package finik

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// KeyFormatError reports key material that cannot be used at all. It is a
// configuration problem and is never retried.
type KeyFormatError struct {
	Reason string
	Err    error
}

func (e *KeyFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("finik key format: %s: %v", e.Reason, e.Err)
	}
	return "finik key format: " + e.Reason
}

func (e *KeyFormatError) Unwrap() error { return e.Err }

var surroundingQuotes = regexp.MustCompile(`^["']|["']$`)

// NormalizePEM undoes the usual damage env files do to PEM text: wrapping
// quotes, literal \n sequences and CRLF line endings.
func NormalizePEM(raw string) string {
	s := surroundingQuotes.ReplaceAllString(strings.TrimSpace(raw), "")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

func decodePEMBlock(raw string) (*pem.Block, error) {
	s := NormalizePEM(raw)
	if s == "" {
		return nil, &KeyFormatError{Reason: "key is empty"}
	}
	if !strings.Contains(s, "-----BEGIN") {
		return nil, &KeyFormatError{Reason: "missing -----BEGIN marker"}
	}
	if !strings.Contains(s, "-----END") {
		return nil, &KeyFormatError{Reason: "missing -----END marker"}
	}
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, &KeyFormatError{Reason: "no PEM block found"}
	}
	return block, nil
}

// keyParser is one container format to try. Parsers run in order until one
// returns a key; their errors are collected for the final report.
type keyParser[K any] struct {
	name  string
	parse func(der []byte) (K, error)
}

func firstParsed[K any](der []byte, parsers []keyParser[K]) (K, error) {
	var errs []error
	for _, p := range parsers {
		key, err := p.parse(der)
		if err == nil {
			return key, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	var zero K
	return zero, errors.Join(errs...)
}

var privateKeyParsers = []keyParser[*rsa.PrivateKey]{
	{name: "pkcs8", parse: func(der []byte) (*rsa.PrivateKey, error) {
		k, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, err
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA key (%T)", k)
		}
		return rk, nil
	}},
	{name: "pkcs1", parse: x509.ParsePKCS1PrivateKey},
}

var publicKeyParsers = []keyParser[*rsa.PublicKey]{
	{name: "pkix", parse: func(der []byte) (*rsa.PublicKey, error) {
		k, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, err
		}
		rk, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA key (%T)", k)
		}
		return rk, nil
	}},
	{name: "pkcs1", parse: x509.ParsePKCS1PublicKey},
	{name: "certificate", parse: func(der []byte) (*rsa.PublicKey, error) {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		rk, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("certificate key is not RSA (%T)", cert.PublicKey)
		}
		return rk, nil
	}},
}

// LoadPrivateKey parses an RSA private key in a PKCS#8 or PKCS#1 envelope.
func LoadPrivateKey(raw string) (*rsa.PrivateKey, error) {
	block, err := decodePEMBlock(raw)
	if err != nil {
		return nil, err
	}
	key, err := firstParsed(block.Bytes, privateKeyParsers)
	if err != nil {
		return nil, &KeyFormatError{Reason: "unsupported private key (" + block.Type + ")", Err: err}
	}
	return key, nil
}

// LoadPublicKey parses an RSA public key (SPKI, PKCS#1 or an X.509 certificate).
func LoadPublicKey(raw string) (*rsa.PublicKey, error) {
	block, err := decodePEMBlock(raw)
	if err != nil {
		return nil, err
	}
	key, err := firstParsed(block.Bytes, publicKeyParsers)
	if err != nil {
		return nil, &KeyFormatError{Reason: "unsupported public key (" + block.Type + ")", Err: err}
	}
	return key, nil
}
