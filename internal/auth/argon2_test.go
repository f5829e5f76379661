package auth

import (
	"strings"
	"testing"
)

func TestHashSecret_Format(t *testing.T) {
	t.Parallel()

	secret := "ik_live_abc123_secretsecretsecretsecret1234"

	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}

	// Verify PHC format: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
	if !strings.HasPrefix(hash, "$argon2id$v=") {
		t.Errorf("Hash should be in PHC format, got: %s", hash)
	}

	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Errorf("Hash should have 6 parts, got: %d", len(parts))
	}

	if parts[3] != "m=65536,t=3,p=4" {
		t.Errorf("Expected m=65536,t=3,p=4, got: %s", parts[3])
	}
}

func TestHashSecret_Uniqueness(t *testing.T) {
	t.Parallel()

	secret := "the_same_secret_12345"

	hash1, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}

	hash2, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}

	// Same secret should produce different hashes (different salts)
	if hash1 == hash2 {
		t.Error("Same secret should produce different hashes due to random salt")
	}

	match1, _ := VerifySecret(secret, hash1)
	match2, _ := VerifySecret(secret, hash2)

	if !match1 || !match2 {
		t.Error("Both hashes should verify correctly")
	}
}

func TestVerifySecret(t *testing.T) {
	t.Parallel()

	secret := "ik_live_abc123_secretsecretsecretsecret1234"

	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}

	match, err := VerifySecret(secret, hash)
	if err != nil {
		t.Fatalf("VerifySecret failed: %v", err)
	}
	if !match {
		t.Error("Correct secret should match")
	}

	match, err = VerifySecret("ik_live_abc123_wrongwrongwrongwrongwrong1234", hash)
	if err != nil {
		t.Fatalf("VerifySecret should not return error for wrong secret: %v", err)
	}
	if match {
		t.Error("Wrong secret should not match")
	}
}

func TestVerifySecret_InvalidHashFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hash    string
		wantErr error
	}{
		{"empty", "", ErrInvalidHash},
		{"wrong format", "not-a-hash", ErrInvalidHash},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$salt$hash", ErrInvalidHash},
		{"missing parts", "$argon2id$v=19$m=65536", ErrInvalidHash},
		{"wrong part count", "$argon2id$v=19", ErrInvalidHash},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := VerifySecret("secret", tt.hash)
			if err != tt.wantErr {
				t.Errorf("VerifySecret with %q error = %v, want %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestVerifySecret_WrongVersion(t *testing.T) {
	t.Parallel()

	invalidVersionHash := "$argon2id$v=18$m=65536,t=3,p=4$c29tZXNhbHRoZXJl$c29tZWhhc2hoZXJl"

	match, err := VerifySecret("secret", invalidVersionHash)
	if err != ErrIncompatibleVersion {
		t.Errorf("Expected ErrIncompatibleVersion, got: %v", err)
	}
	if match {
		t.Error("Should not match with incompatible version")
	}
}

func TestQuickHash(t *testing.T) {
	t.Parallel()

	input := "ik_live_abc123_secretsecretsecretsecret1234"

	hash1 := QuickHash(input)
	hash2 := QuickHash(input)

	if hash1 != hash2 {
		t.Error("Same input should produce same hash")
	}
	if len(hash1) != 32 {
		t.Errorf("Hash should be 32 chars, got: %d", len(hash1))
	}
	if QuickHash("other-input") == hash1 {
		t.Error("Different input should produce different hash")
	}
}
