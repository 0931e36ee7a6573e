package cmd

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"taskbridge/internal/secrets"
)

func TestOAuthStateKeyDistinctFromClientSecret(t *testing.T) {
	secret := "gh_client_secret_value"
	key := oauthStateKey(secret)

	if len(key) != 32 {
		t.Fatalf("key length = %d, want 32", len(key))
	}
	if bytes.Equal(key, []byte(secret)) {
		t.Error("state key equals the client secret")
	}
	// The same secret derives the same key across restarts, so state
	// issued before a restart still verifies after it.
	if !bytes.Equal(key, oauthStateKey(secret)) {
		t.Error("derivation is not deterministic")
	}
	if bytes.Equal(key, oauthStateKey("other secret")) {
		t.Error("different secrets derive the same key")
	}
}

func TestGetTokenCipherFromEnv(t *testing.T) {
	key := make([]byte, secrets.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("TBR_TOKEN_KEY", hex.EncodeToString(key))

	cipher, err := GetTokenCipher()
	if err != nil {
		t.Fatalf("GetTokenCipher() error: %v", err)
	}

	sealed, err := cipher.Seal("gho_plaintext_token")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if strings.Contains(sealed, "gho_plaintext_token") {
		t.Error("sealed token contains the plaintext")
	}
	opened, err := cipher.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if opened != "gho_plaintext_token" {
		t.Errorf("round trip = %q", opened)
	}
}

func TestGetTokenCipherRejectsBadEnvKey(t *testing.T) {
	t.Setenv("TBR_TOKEN_KEY", "not-hex")
	if _, err := GetTokenCipher(); err == nil {
		t.Error("GetTokenCipher() error = nil, want invalid key error")
	}
}
