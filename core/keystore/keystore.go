// Package keystore manages the long-lived NIST P-256 key pair used to sign
// broker requests and identify this client across sessions.
package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/traderepublic/broker-session/internal/metrics"
)

// ErrNoKeyPair is returned by Load when no key file exists yet.
var ErrNoKeyPair = errors.New("keystore: no key pair stored")

// ErrMalformed is returned when the stored key file cannot be parsed.
var ErrMalformed = errors.New("keystore: malformed key file")

// KeyPair is the client's long-term P-256 identity.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// storedKeyPair is the JSON-on-disk representation.
type storedKeyPair struct {
	PrivateKeyPEM string `json:"privateKeyPem"`
	PublicKeyPEM  string `json:"publicKeyPem"`
}

// Envelope is the signed request envelope: the signature covers the
// JSON serialization of {timestamp, data}.
type Envelope struct {
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature"`
}

type envelopeToSign struct {
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Store generates, persists, and loads the P-256 key pair backing this
// client's device identity. It is safe for concurrent use; all methods
// that touch the filesystem take no internal lock because the key file
// is written once and thereafter only read, and destroyed only by
// explicit user action.
type Store struct {
	path string
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp signed envelopes, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New returns a Store backed by <configDir>/keys.json.
func New(configDir string, opts ...Option) *Store {
	s := &Store{
		path:  filepath.Join(configDir, "keys.json"),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exists reports whether a key pair has already been persisted.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the persisted key pair, or ErrNoKeyPair if none exists.
func (s *Store) Load() (*KeyPair, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoKeyPair
		}
		return nil, fmt.Errorf("keystore: read %s: %w", s.path, err)
	}

	var stored storedKeyPair
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	priv, err := decodePrivateKey(stored.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	pub, err := decodePublicKey(stored.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &KeyPair{Private: priv, Public: pub}, nil
}

// LoadOrGenerate loads the stored key pair, generating and persisting a
// fresh one on first use.
func (s *Store) LoadOrGenerate() (*KeyPair, error) {
	kp, err := s.Load()
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, ErrNoKeyPair) {
		return nil, err
	}

	kp, err = Generate()
	if err != nil {
		return nil, fmt.Errorf("keystore: generate: %w", err)
	}
	if err := s.Save(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// Generate creates a fresh NIST P-256 key pair.
func Generate() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// Save persists kp at <configDir>/keys.json, creating the directory
// recursively if it does not exist.
func (s *Store) Save(kp *KeyPair) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("keystore: mkdir: %w", err)
	}

	privPEM, err := encodePrivateKey(kp.Private)
	if err != nil {
		return fmt.Errorf("keystore: encode private key: %w", err)
	}
	pubPEM, err := encodePublicKey(kp.Public)
	if err != nil {
		return fmt.Errorf("keystore: encode public key: %w", err)
	}

	raw, err := json.Marshal(storedKeyPair{PrivateKeyPEM: privPEM, PublicKeyPEM: pubPEM})
	if err != nil {
		return fmt.Errorf("keystore: marshal: %w", err)
	}

	return os.WriteFile(s.path, raw, 0o600)
}

// Destroy removes the persisted key pair on explicit user action.
func (s *Store) Destroy() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("keystore: remove %s: %w", s.path, err)
	}
	return nil
}

// Sign produces an ECDSA-SHA-512 signature over message, base64-encoded.
func Sign(kp *KeyPair, message []byte) (string, error) {
	start := time.Now()
	sig, err := signASN1(kp, message)
	metrics.SigningDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SigningOperations.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("keystore: sign: %w", err)
	}
	metrics.SigningOperations.WithLabelValues("success").Inc()
	return base64.StdEncoding.EncodeToString(sig), nil
}

func signASN1(kp *KeyPair, message []byte) ([]byte, error) {
	digest := sha512.Sum512(message)
	return ecdsa.SignASN1(rand.Reader, kp.Private, digest[:])
}

// SignEnvelope builds the signed envelope {timestamp, data, signature},
// where the signed bytes are the JSON serialization of {timestamp, data}.
func (s *Store) SignEnvelope(kp *KeyPair, data interface{}) (*Envelope, error) {
	ts := s.clock().UTC().Format(time.RFC3339)

	toSign, err := json.Marshal(envelopeToSign{Timestamp: ts, Data: data})
	if err != nil {
		return nil, fmt.Errorf("keystore: marshal envelope: %w", err)
	}

	sig, err := Sign(kp, toSign)
	if err != nil {
		return nil, err
	}

	return &Envelope{Timestamp: ts, Data: data, Signature: sig}, nil
}

// PublicKeyBase64 exports the raw uncompressed EC point (0x04 || X || Y,
// 65 bytes) as base64. The DER SubjectPublicKeyInfo encoding is produced
// via x509.MarshalPKIXPublicKey and the last 65 bytes are the raw point.
func PublicKeyBase64(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("keystore: marshal public key: %w", err)
	}
	if len(der) < 65 {
		return "", fmt.Errorf("keystore: unexpected SPKI length %d", len(der))
	}
	point := der[len(der)-65:]
	if point[0] != 0x04 {
		return "", fmt.Errorf("keystore: unexpected point prefix 0x%02x", point[0])
	}
	return base64.StdEncoding.EncodeToString(point), nil
}

func encodePrivateKey(priv *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func encodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func decodePrivateKey(pemStr string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an ECDSA private key")
	}
	return priv, nil
}

func decodePublicKey(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}
	return pub, nil
}

// Equal reports whether two key pairs have the same private scalar and
// public point, used by round-trip tests.
func Equal(a, b *KeyPair) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Private.D.Cmp(b.Private.D) == 0 &&
		pointEqual(a.Public, b.Public) &&
		pointEqual(&a.Private.PublicKey, &b.Private.PublicKey)
}

func pointEqual(a, b *ecdsa.PublicKey) bool {
	return equalInt(a.X, b.X) && equalInt(a.Y, b.Y) && a.Curve == b.Curve
}

func equalInt(a, b *big.Int) bool {
	return a.Cmp(b) == 0
}

var _ crypto.Signer = (*ecdsa.PrivateKey)(nil)
