package keystore

import (
	"crypto/ecdsa"
	"crypto/sha512"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	kp, err := Generate()
	require.NoError(t, err)

	require.NoError(t, store.Save(kp))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)

	assert.True(t, Equal(kp, loaded), "round-tripped key pair must be byte-equal")
}

func TestLoadOrGenerateCreatesOnFirstUse(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "nested"))

	assert.False(t, store.Exists())
	kp1, err := store.LoadOrGenerate()
	require.NoError(t, err)
	assert.True(t, store.Exists())

	kp2, err := store.LoadOrGenerate()
	require.NoError(t, err)
	assert.True(t, Equal(kp1, kp2), "second call must load the persisted pair, not regenerate")
}

func TestLoadMissingReturnsErrNoKeyPair(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoKeyPair)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	require.NoError(t, store.Save(mustGenerate(t)))

	// Corrupt the file.
	path := filepath.Join(dir, "keys.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDestroy(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	require.NoError(t, store.Save(mustGenerate(t)))
	require.True(t, store.Exists())

	require.NoError(t, store.Destroy())
	assert.False(t, store.Exists())

	// Destroying an already-absent key file is not an error.
	assert.NoError(t, store.Destroy())
}

func TestPublicKeyBase64(t *testing.T) {
	kp := mustGenerate(t)
	b64, err := PublicKeyBase64(kp.Public)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Equal(t, byte(0x04), raw[0])
}

func TestSignIsVerifiableAndRandomized(t *testing.T) {
	kp := mustGenerate(t)
	msg := []byte("hello broker")

	sig1, err := Sign(kp, msg)
	require.NoError(t, err)
	sig2, err := Sign(kp, msg)
	require.NoError(t, err)

	assert.True(t, verifyBase64(t, kp.Public, msg, sig1))
	assert.True(t, verifyBase64(t, kp.Public, msg, sig2))

	otherMsg := []byte("different message")
	sig3, err := Sign(kp, otherMsg)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig3)
}

func TestSignEnvelope(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := New(dir, WithClock(func() time.Time { return fixed }))
	kp := mustGenerate(t)

	env, err := store.SignEnvelope(kp, map[string]string{"hello": "world"})
	require.NoError(t, err)

	assert.Equal(t, "2026-01-02T03:04:05Z", env.Timestamp)
	assert.NotEmpty(t, env.Signature)
}

func mustGenerate(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := Generate()
	require.NoError(t, err)
	return kp
}

func verifyBase64(t *testing.T, pub *ecdsa.PublicKey, msg []byte, sigB64 string) bool {
	t.Helper()
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	require.NoError(t, err)
	digest := sha512.Sum512(msg)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
