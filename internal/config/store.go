package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/donorsync/reconcile-api/internal/crypto"
	"github.com/donorsync/reconcile-api/internal/models"
)

var (
	ErrClientNotFound  = errors.New("client not found")
	ErrDuplicateClient = errors.New("a client with this name already exists")
)

// Document is the full clients.json document: every client (enabled or not)
// plus the run settings. This is what the config CRUD API reads and writes.
type Document struct {
	Clients  []models.ClientConfig `json:"clients"`
	Settings models.RunSettings    `json:"settings"`
}

// Store is the on-disk JSON document store for clients and run settings.
// Client API keys are encrypted at rest when an encryptor is configured.
// Writes go through a temp file and rename so a crashed save never leaves
// a half-written document.
type Store struct {
	path   string
	enc    *crypto.Encryptor
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a store backed by the document at path. enc may be nil,
// in which case API keys are stored in plaintext.
func NewStore(path string, enc *crypto.Encryptor, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, enc: enc, logger: logger.With("component", "config-store")}
}

// Load returns one run's view of the configuration: enabled clients only,
// API keys decrypted, defaults applied. Called fresh at the start of each
// run so mid-run edits apply to the next run only.
func (s *Store) Load() (*models.AppConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	cfg := &models.AppConfig{Settings: doc.Settings}
	for _, c := range doc.Clients {
		if c.Enabled {
			cfg.Clients = append(cfg.Clients, c)
		}
	}
	return cfg, nil
}

// Raw returns the full document, including disabled clients.
func (s *Store) Raw() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// SettingsPatch is a partial update of the run settings. Nil fields are
// left unchanged.
type SettingsPatch struct {
	Days           *int        `json:"days,omitempty"`
	MaxWorkers     *int        `json:"max_workers,omitempty"`
	FetchPageSize  *int        `json:"fetch_page_size,omitempty"`
	RequestTimeout *int        `json:"request_timeout,omitempty"`
	Email          *EmailPatch `json:"email,omitempty"`
}

// EmailPatch is a partial update of the email settings.
type EmailPatch struct {
	SMTPHost       *string   `json:"smtp_host,omitempty"`
	SMTPPort       *int      `json:"smtp_port,omitempty"`
	SenderEmail    *string   `json:"sender_email,omitempty"`
	SenderPassword *string   `json:"sender_password,omitempty"`
	AdminEmails    *[]string `json:"admin_emails,omitempty"`
}

// UpdateSettings applies a partial settings update and persists the document.
func (s *Store) UpdateSettings(patch SettingsPatch) (models.RunSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return models.RunSettings{}, err
	}

	if patch.Days != nil {
		doc.Settings.Days = *patch.Days
	}
	if patch.MaxWorkers != nil {
		doc.Settings.MaxWorkers = *patch.MaxWorkers
	}
	if patch.FetchPageSize != nil {
		doc.Settings.FetchPageSize = *patch.FetchPageSize
	}
	if patch.RequestTimeout != nil {
		doc.Settings.RequestTimeout = *patch.RequestTimeout
	}
	if patch.Email != nil {
		e := &doc.Settings.Email
		if patch.Email.SMTPHost != nil {
			e.SMTPHost = *patch.Email.SMTPHost
		}
		if patch.Email.SMTPPort != nil {
			e.SMTPPort = *patch.Email.SMTPPort
		}
		if patch.Email.SenderEmail != nil {
			e.SenderEmail = *patch.Email.SenderEmail
		}
		if patch.Email.SenderPassword != nil {
			e.SenderPassword = *patch.Email.SenderPassword
		}
		if patch.Email.AdminEmails != nil {
			e.AdminEmails = *patch.Email.AdminEmails
		}
	}

	if err := s.write(doc); err != nil {
		return models.RunSettings{}, err
	}
	return doc.Settings, nil
}

// Clients returns all configured clients, including disabled ones.
func (s *Store) Clients() ([]models.ClientConfig, error) {
	doc, err := s.Raw()
	if err != nil {
		return nil, err
	}
	return doc.Clients, nil
}

// AddClient appends a new client. Names must be unique case-insensitively.
func (s *Store) AddClient(c models.ClientConfig) (models.ClientConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return models.ClientConfig{}, err
	}

	for _, existing := range doc.Clients {
		if strings.EqualFold(existing.Name, c.Name) {
			return models.ClientConfig{}, ErrDuplicateClient
		}
	}

	if c.TablePrefix == "" {
		c.TablePrefix = "pw_"
	}

	doc.Clients = append(doc.Clients, c)
	if err := s.write(doc); err != nil {
		return models.ClientConfig{}, err
	}
	return c, nil
}

// ClientPatch is a partial update of one client. Nil fields are unchanged.
type ClientPatch struct {
	Name        *string `json:"name,omitempty"`
	BaseURL     *string `json:"base_url,omitempty"`
	APIKey      *string `json:"api_key,omitempty"`
	TablePrefix *string `json:"table_prefix,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

// UpdateClient applies a partial update to the client matched by name
// (case-insensitive). A rename that collides with another client is
// rejected to keep names unique.
func (s *Store) UpdateClient(name string, patch ClientPatch) (models.ClientConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return models.ClientConfig{}, err
	}

	idx := -1
	for i, c := range doc.Clients {
		if strings.EqualFold(c.Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.ClientConfig{}, ErrClientNotFound
	}

	c := doc.Clients[idx]
	if patch.Name != nil {
		for i, other := range doc.Clients {
			if i != idx && strings.EqualFold(other.Name, *patch.Name) {
				return models.ClientConfig{}, ErrDuplicateClient
			}
		}
		c.Name = *patch.Name
	}
	if patch.BaseURL != nil {
		c.BaseURL = *patch.BaseURL
	}
	if patch.APIKey != nil {
		c.APIKey = *patch.APIKey
	}
	if patch.TablePrefix != nil {
		c.TablePrefix = *patch.TablePrefix
	}
	if patch.Enabled != nil {
		c.Enabled = *patch.Enabled
	}

	doc.Clients[idx] = c
	if err := s.write(doc); err != nil {
		return models.ClientConfig{}, err
	}
	return c, nil
}

// DeleteClient removes the client matched by name (case-insensitive).
func (s *Store) DeleteClient(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	kept := doc.Clients[:0]
	for _, c := range doc.Clients {
		if !strings.EqualFold(c.Name, name) {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(doc.Clients) {
		return ErrClientNotFound
	}

	doc.Clients = kept
	return s.write(doc)
}

// read parses the document, decrypts API keys and applies defaults. A
// missing file yields an empty document with default settings so a fresh
// install can be configured entirely through the API.
func (s *Store) read() (*Document, error) {
	doc := &Document{}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First boot: nothing configured yet.
	case err != nil:
		return nil, fmt.Errorf("failed to read config document: %w", err)
	default:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to parse config document: %w", err)
		}
	}

	if s.enc != nil {
		for i, c := range doc.Clients {
			plain, err := s.enc.Decrypt(c.APIKey)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt API key for client %q: %w", c.Name, err)
			}
			doc.Clients[i].APIKey = plain
		}
	}

	seen := make(map[string]struct{}, len(doc.Clients))
	for _, c := range doc.Clients {
		folded := strings.ToLower(c.Name)
		if _, dup := seen[folded]; dup {
			return nil, fmt.Errorf("config document contains duplicate client name %q", c.Name)
		}
		seen[folded] = struct{}{}
	}

	applyDefaults(&doc.Settings)
	return doc, nil
}

func (s *Store) write(doc *Document) error {
	out := *doc
	if s.enc != nil {
		out.Clients = make([]models.ClientConfig, len(doc.Clients))
		copy(out.Clients, doc.Clients)
		for i, c := range out.Clients {
			sealed, err := s.enc.Encrypt(c.APIKey)
			if err != nil {
				return fmt.Errorf("failed to encrypt API key for client %q: %w", c.Name, err)
			}
			out.Clients[i].APIKey = sealed
		}
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace config document: %w", err)
	}
	return nil
}

func applyDefaults(s *models.RunSettings) {
	if s.Days == 0 {
		s.Days = 2
	}
	if s.MaxWorkers == 0 {
		s.MaxWorkers = 4
	}
	if s.FetchPageSize == 0 {
		s.FetchPageSize = 5000
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = 30
	}
	if s.Email.SMTPHost == "" {
		s.Email.SMTPHost = "smtp.gmail.com"
	}
	if s.Email.SMTPPort == 0 {
		s.Email.SMTPPort = 587
	}
}
