// Package auth implements the gateway's authentication surfaces: admin
// credentials, login sessions, gateway keys, and principal derivation for
// incoming requests.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

const (
	passwordLen      = 16
	saltLen          = 32
	passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*"
)

// CredentialStore persists the single admin login record as a JSON file.
// All writes are serialized behind mu.
type CredentialStore struct {
	path string

	mu    sync.Mutex
	creds *gateway.AdminCredentials
}

// NewCredentialStore creates a store persisting at path. Call Initialize
// before first use.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Initialize loads existing credentials or, on first run, generates an admin
// password and persists its salted hash. The plaintext password is returned
// exactly once, on the generating call; subsequent calls return "".
func (s *CredentialStore) Initialize() (plaintext string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err == nil {
		var creds gateway.AdminCredentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return "", fmt.Errorf("parse credentials file: %w", err)
		}
		s.creds = &creds
		return "", nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read credentials file: %w", err)
	}

	password, err := randomPassword()
	if err != nil {
		return "", err
	}
	salt, err := randomSalt()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	creds := &gateway.AdminCredentials{
		Username:     "admin",
		PasswordHash: hashPassword(password, salt),
		Salt:         salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.writeLocked(creds); err != nil {
		return "", err
	}
	s.creds = creds
	return password, nil
}

// Verify checks a username/password pair in constant time.
func (s *CredentialStore) Verify(username, password string) bool {
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()
	if creds == nil {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(creds.Username)) == 1
	hashOK := subtle.ConstantTimeCompare(
		[]byte(hashPassword(password, creds.Salt)),
		[]byte(creds.PasswordHash)) == 1
	return userOK && hashOK
}

// ChangePassword verifies the current password, then re-salts and rehashes
// with the new one. Returns ErrUnauthorized when current does not verify.
func (s *CredentialStore) ChangePassword(current, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return gateway.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(
		[]byte(hashPassword(current, s.creds.Salt)),
		[]byte(s.creds.PasswordHash)) != 1 {
		return gateway.ErrUnauthorized
	}

	salt, err := randomSalt()
	if err != nil {
		return err
	}
	creds := *s.creds
	creds.PasswordHash = hashPassword(next, salt)
	creds.Salt = salt
	creds.UpdatedAt = time.Now().UTC()
	if err := s.writeLocked(&creds); err != nil {
		return err
	}
	s.creds = &creds
	return nil
}

// Username returns the stored admin username.
func (s *CredentialStore) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.Username
}

// writeLocked persists credentials atomically via temp file + rename.
// Callers must hold mu.
func (s *CredentialStore) writeLocked(creds *gateway.AdminCredentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}

// hashPassword computes SHA-256 over password||salt, hex-encoded.
func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// randomPassword draws a 16-char password from the credential alphabet.
func randomPassword() (string, error) {
	return randomFromAlphabet(passwordAlphabet, passwordLen)
}

// randomSalt draws a 32-char alphanumeric salt.
func randomSalt() (string, error) {
	return randomFromAlphabet("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", saltLen)
}

// randomFromAlphabet builds an n-char string of CSPRNG-selected alphabet
// characters, rejection-sampled to keep the distribution uniform.
func randomFromAlphabet(alphabet string, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	limit := 256 - 256%len(alphabet)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
