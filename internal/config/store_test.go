package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/donorsync/reconcile-api/internal/crypto"
	"github.com/donorsync/reconcile-api/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "clients.json"), nil, nil)
}

func TestStoreDefaultsOnFreshInstall(t *testing.T) {
	s := newTestStore(t)

	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Clients) != 0 {
		t.Errorf("expected no clients, got %d", len(cfg.Clients))
	}
	if cfg.Settings.Days != 2 || cfg.Settings.MaxWorkers != 4 {
		t.Errorf("unexpected defaults: %+v", cfg.Settings)
	}
	if cfg.Settings.FetchPageSize != 5000 || cfg.Settings.RequestTimeout != 30 {
		t.Errorf("unexpected defaults: %+v", cfg.Settings)
	}
	if cfg.Settings.Email.SMTPHost != "smtp.gmail.com" || cfg.Settings.Email.SMTPPort != 587 {
		t.Errorf("unexpected email defaults: %+v", cfg.Settings.Email)
	}
}

func TestStoreAddClient(t *testing.T) {
	s := newTestStore(t)

	added, err := s.AddClient(models.ClientConfig{Name: "Acme", BaseURL: "https://acme.example", Enabled: true})
	if err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}
	if added.TablePrefix != "pw_" {
		t.Errorf("TablePrefix = %q, want default pw_", added.TablePrefix)
	}

	t.Run("rejects duplicate name case-insensitively", func(t *testing.T) {
		_, err := s.AddClient(models.ClientConfig{Name: "ACME", BaseURL: "https://other.example"})
		if err != ErrDuplicateClient {
			t.Errorf("AddClient() error = %v, want ErrDuplicateClient", err)
		}
	})
}

func TestStoreLoadFiltersDisabledClients(t *testing.T) {
	s := newTestStore(t)
	mustAdd(t, s, models.ClientConfig{Name: "Acme", BaseURL: "https://acme.example", Enabled: true})
	mustAdd(t, s, models.ClientConfig{Name: "Globex", BaseURL: "https://globex.example", Enabled: false})

	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Clients) != 1 || cfg.Clients[0].Name != "Acme" {
		t.Errorf("Load() clients = %+v, want only Acme", cfg.Clients)
	}

	raw, err := s.Raw()
	if err != nil {
		t.Fatalf("Raw() error = %v", err)
	}
	if len(raw.Clients) != 2 {
		t.Errorf("Raw() clients = %d, want 2", len(raw.Clients))
	}
}

func TestStoreUpdateClient(t *testing.T) {
	s := newTestStore(t)
	mustAdd(t, s, models.ClientConfig{Name: "Acme", BaseURL: "https://acme.example", Enabled: true})
	mustAdd(t, s, models.ClientConfig{Name: "Globex", BaseURL: "https://globex.example", Enabled: true})

	t.Run("partial update", func(t *testing.T) {
		url := "https://acme-new.example"
		enabled := false
		c, err := s.UpdateClient("acme", ClientPatch{BaseURL: &url, Enabled: &enabled})
		if err != nil {
			t.Fatalf("UpdateClient() error = %v", err)
		}
		if c.BaseURL != url || c.Enabled || c.Name != "Acme" {
			t.Errorf("unexpected client after update: %+v", c)
		}
	})

	t.Run("rename collision rejected", func(t *testing.T) {
		name := "globex"
		if _, err := s.UpdateClient("Acme", ClientPatch{Name: &name}); err != ErrDuplicateClient {
			t.Errorf("UpdateClient() error = %v, want ErrDuplicateClient", err)
		}
	})

	t.Run("unknown client", func(t *testing.T) {
		if _, err := s.UpdateClient("Initech", ClientPatch{}); err != ErrClientNotFound {
			t.Errorf("UpdateClient() error = %v, want ErrClientNotFound", err)
		}
	})
}

func TestStoreDeleteClient(t *testing.T) {
	s := newTestStore(t)
	mustAdd(t, s, models.ClientConfig{Name: "Acme", BaseURL: "https://acme.example", Enabled: true})

	if err := s.DeleteClient("ACME"); err != nil {
		t.Fatalf("DeleteClient() error = %v", err)
	}
	if err := s.DeleteClient("Acme"); err != ErrClientNotFound {
		t.Errorf("second DeleteClient() error = %v, want ErrClientNotFound", err)
	}
}

func TestStoreEncryptsAPIKeysAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")
	enc, err := crypto.NewEncryptor(crypto.DeriveKey("store-test-secret"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	s := NewStore(path, enc, nil)

	mustAdd(t, s, models.ClientConfig{Name: "Acme", BaseURL: "https://acme.example", APIKey: "sk_live_topsecret", Enabled: true})

	// The document on disk must not contain the plaintext key.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(data), "sk_live_topsecret") {
		t.Error("plaintext API key found in document on disk")
	}

	// A round trip through the store yields the plaintext again.
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Clients[0].APIKey != "sk_live_topsecret" {
		t.Errorf("APIKey = %q, want plaintext after decryption", cfg.Clients[0].APIKey)
	}
}

func TestStoreRejectsDuplicateNamesInDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")
	doc := Document{Clients: []models.ClientConfig{
		{Name: "Acme", Enabled: true},
		{Name: "acme", Enabled: true},
	}}
	data, _ := json.Marshal(doc)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path, nil, nil)
	if _, err := s.Load(); err == nil {
		t.Error("expected Load() to fail on duplicate case-folded names")
	}
}

func TestStoreUpdateSettings(t *testing.T) {
	s := newTestStore(t)

	days := 7
	host := "smtp.example.org"
	admins := []string{"ops@example.org"}
	got, err := s.UpdateSettings(SettingsPatch{
		Days:  &days,
		Email: &EmailPatch{SMTPHost: &host, AdminEmails: &admins},
	})
	if err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}
	if got.Days != 7 {
		t.Errorf("Days = %d, want 7", got.Days)
	}
	if got.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %d, want untouched default 4", got.MaxWorkers)
	}
	if got.Email.SMTPHost != host || len(got.Email.AdminEmails) != 1 {
		t.Errorf("unexpected email settings: %+v", got.Email)
	}

	// The update must survive a reload.
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Settings.Days != 7 {
		t.Errorf("persisted Days = %d, want 7", cfg.Settings.Days)
	}
}

func mustAdd(t *testing.T, s *Store, c models.ClientConfig) {
	t.Helper()
	if _, err := s.AddClient(c); err != nil {
		t.Fatalf("AddClient(%q) error = %v", c.Name, err)
	}
}
