package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gateway "github.com/eugener/radagast/internal"
)

func TestInitializeGeneratesOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewCredentialStore(path)

	password, err := s.Initialize()
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(password) != passwordLen {
		t.Fatalf("password length = %d, want %d", len(password), passwordLen)
	}
	if s.Username() != "admin" {
		t.Errorf("username = %q", s.Username())
	}

	// Second initialization loads the file and returns no plaintext.
	s2 := NewCredentialStore(path)
	again, err := s2.Initialize()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again != "" {
		t.Errorf("reload returned plaintext %q", again)
	}
	if !s2.Verify("admin", password) {
		t.Error("reloaded store rejects the generated password")
	}
}

func TestFileNeverHoldsPlaintext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewCredentialStore(path)
	password, err := s.Initialize()
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), password) {
		t.Error("credentials file contains the plaintext password")
	}

	var creds gateway.AdminCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(creds.PasswordHash) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(creds.PasswordHash))
	}
	if len(creds.Salt) != saltLen {
		t.Errorf("salt length = %d, want %d", len(creds.Salt), saltLen)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	s := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	password, _ := s.Initialize()

	if !s.Verify("admin", password) {
		t.Error("correct credentials rejected")
	}
	if s.Verify("admin", "wrong") {
		t.Error("wrong password accepted")
	}
	if s.Verify("root", password) {
		t.Error("wrong username accepted")
	}
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewCredentialStore(path)
	password, _ := s.Initialize()

	if err := s.ChangePassword("wrong", "new-password-123"); err != gateway.ErrUnauthorized {
		t.Errorf("ChangePassword with wrong current = %v, want ErrUnauthorized", err)
	}

	if err := s.ChangePassword(password, "new-password-123"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if s.Verify("admin", password) {
		t.Error("old password still verifies")
	}
	if !s.Verify("admin", "new-password-123") {
		t.Error("new password rejected")
	}

	// The change survives a reload.
	s2 := NewCredentialStore(path)
	if _, err := s2.Initialize(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !s2.Verify("admin", "new-password-123") {
		t.Error("reloaded store rejects the new password")
	}
}

func TestRandomFromAlphabet(t *testing.T) {
	t.Parallel()

	got, err := randomFromAlphabet("abc", 100)
	if err != nil {
		t.Fatalf("randomFromAlphabet: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("length = %d", len(got))
	}
	for _, c := range got {
		if c != 'a' && c != 'b' && c != 'c' {
			t.Fatalf("out-of-alphabet char %q", c)
		}
	}
}
