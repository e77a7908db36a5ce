package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptSecret(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	secret := "hyperliquid-private-key-0xdeadbeef"
	encrypted, err := EncryptSecret(secret, key)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}
	if encrypted == secret {
		t.Fatal("ciphertext equals plaintext")
	}

	decrypted, err := DecryptSecret(encrypted, key)
	if err != nil {
		t.Fatalf("DecryptSecret failed: %v", err)
	}
	if decrypted != secret {
		t.Errorf("round trip mismatch: %q != %q", decrypted, secret)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	key, _ := GenerateKey()

	first, _ := EncryptSecret("same-secret", key)
	second, _ := EncryptSecret("same-secret", key)
	if first == second {
		t.Error("nonce reuse: identical plaintexts produced identical ciphertexts")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	encrypted, _ := EncryptSecret("secret", key1)
	if _, err := DecryptSecret(encrypted, key2); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptTampered(t *testing.T) {
	key, _ := GenerateKey()
	encrypted, _ := EncryptSecret("secret", key)

	tampered := "A" + encrypted[1:]
	if _, err := DecryptSecret(tampered, key); err == nil {
		t.Error("tampered ciphertext decrypted without error")
	}
}

func TestKeyLengthValidation(t *testing.T) {
	short := make([]byte, 16)
	if _, err := EncryptSecret("x", short); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("expected ErrInvalidKeyLength, got %v", err)
	}
	if _, err := DecryptSecret("x", short); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestKeyFromHex(t *testing.T) {
	keyHex, err := GenerateKeyHex()
	if err != nil {
		t.Fatalf("GenerateKeyHex failed: %v", err)
	}
	if len(keyHex) != 64 {
		t.Fatalf("hex key length = %d, want 64", len(keyHex))
	}

	key, err := KeyFromHex(keyHex)
	if err != nil {
		t.Fatalf("KeyFromHex failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}

	if _, err := KeyFromHex("not-hex"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := KeyFromHex("abcd"); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("expected ErrInvalidKeyLength for short key, got %v", err)
	}
}

func TestHashAndVerifyToken(t *testing.T) {
	hash, err := HashToken("keeper-admin-token")
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}
	if strings.Contains(hash, "keeper-admin-token") {
		t.Fatal("hash contains plaintext token")
	}

	if err := VerifyToken("keeper-admin-token", hash); err != nil {
		t.Errorf("VerifyToken failed for correct token: %v", err)
	}
	if err := VerifyToken("wrong-token", hash); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("expected ErrTokenMismatch, got %v", err)
	}
}

func TestVerifyTokenEdgeCases(t *testing.T) {
	if err := VerifyToken("", "hash"); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("expected ErrEmptyToken, got %v", err)
	}
	if err := VerifyToken("token", ""); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("expected ErrInvalidHash, got %v", err)
	}
	if err := VerifyToken("token", "not-a-bcrypt-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("expected ErrInvalidHash, got %v", err)
	}
}

func TestHashTokenTooLong(t *testing.T) {
	long := strings.Repeat("a", 73)
	if _, err := HashToken(long); !errors.Is(err, ErrTokenTooLong) {
		t.Errorf("expected ErrTokenTooLong, got %v", err)
	}
}

func TestTokenMatches(t *testing.T) {
	hash, _ := HashToken("tok")
	if !TokenMatches("tok", hash) {
		t.Error("TokenMatches false for correct token")
	}
	if TokenMatches("other", hash) {
		t.Error("TokenMatches true for wrong token")
	}
}
