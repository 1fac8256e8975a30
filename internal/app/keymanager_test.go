package app

import (
	"errors"
	"testing"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

func TestKeyManager(t *testing.T) {
	t.Parallel()

	km := NewKeyManager()
	cred := provider.NewCredential("sk-initial")
	km.Register("openai", cred)

	if !km.HasKey("openai") {
		t.Error("HasKey = false after Register")
	}

	if err := km.SetKey("openai", "sk-rotated"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if got := cred.Get(); got != "sk-rotated" {
		t.Errorf("credential = %q", got)
	}

	if err := km.DeleteKey("openai"); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if km.HasKey("openai") {
		t.Error("HasKey = true after delete")
	}

	if err := km.SetKey("missing", "sk-x"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("SetKey unknown provider err = %v", err)
	}
}
