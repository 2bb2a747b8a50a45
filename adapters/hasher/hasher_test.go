package hasher_test

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/restmod/adapters/hasher"
)

func TestNewBcryptCost(t *testing.T) {
	tests := []struct {
		cost, want int
	}{
		{bcrypt.MinCost, bcrypt.MinCost},
		{12, 12},
		{0, bcrypt.DefaultCost},
		{1, bcrypt.DefaultCost},
		{100, bcrypt.DefaultCost},
	}
	for _, tt := range tests {
		if got := hasher.NewBcrypt(tt.cost).Cost(); got != tt.want {
			t.Errorf("NewBcrypt(%d).Cost() = %d, want %d", tt.cost, got, tt.want)
		}
	}
}

func TestBcrypt_Hash(t *testing.T) {
	h := hasher.NewBcrypt(bcrypt.MinCost) // Use min cost for speed in tests

	hash1, err := h.Hash("password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if len(hash1) == 0 || hash1[0] != '$' {
		t.Errorf("hash = %q, want bcrypt format", hash1)
	}

	// Bcrypt uses random salt, so same input gives different hash
	hash2, _ := h.Hash("password")
	if string(hash1) == string(hash2) {
		t.Error("same password should produce different hashes due to salt")
	}
}

func TestBcrypt_Compare(t *testing.T) {
	h := hasher.NewBcrypt(bcrypt.MinCost)
	hash, _ := h.Hash("secret1")

	tests := []struct {
		name      string
		hash      []byte
		plaintext string
		want      bool
	}{
		{"match", hash, "secret1", true},
		{"wrong password", hash, "secret2", false},
		{"empty password", hash, "", false},
		{"invalid hash", []byte("not-a-hash"), "secret1", false},
		{"empty hash", nil, "secret1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Compare(tt.hash, tt.plaintext); got != tt.want {
				t.Errorf("Compare = %v, want %v", got, tt.want)
			}
		})
	}
}
