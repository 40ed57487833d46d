package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donorsync/reconcile-api/internal/config"
	"github.com/donorsync/reconcile-api/internal/models"
)

// ConfigHandler exposes CRUD over clients and run settings.
type ConfigHandler struct {
	store  *config.Store
	logger *slog.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(store *config.Store, logger *slog.Logger) *ConfigHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigHandler{store: store, logger: logger.With("component", "config-handler")}
}

// ClientView is a client as returned by the API: the API key is masked so
// secrets never leave the server once stored.
type ClientView struct {
	Name        string `json:"name"`
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key" doc:"Masked; only the last four characters are shown"`
	TablePrefix string `json:"table_prefix"`
	Enabled     bool   `json:"enabled"`
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func toView(c models.ClientConfig) ClientView {
	return ClientView{
		Name:        c.Name,
		BaseURL:     c.BaseURL,
		APIKey:      maskKey(c.APIKey),
		TablePrefix: c.TablePrefix,
		Enabled:     c.Enabled,
	}
}

// SettingsView is the run settings as returned by the API, with the SMTP
// password masked.
type SettingsView struct {
	Days           int      `json:"days"`
	MaxWorkers     int      `json:"max_workers"`
	FetchPageSize  int      `json:"fetch_page_size"`
	RequestTimeout int      `json:"request_timeout"`
	SMTPHost       string   `json:"smtp_host"`
	SMTPPort       int      `json:"smtp_port"`
	SenderEmail    string   `json:"sender_email"`
	AdminEmails    []string `json:"admin_emails"`
}

func toSettingsView(s models.RunSettings) SettingsView {
	emails := s.Email.AdminEmails
	if emails == nil {
		emails = []string{}
	}
	return SettingsView{
		Days:           s.Days,
		MaxWorkers:     s.MaxWorkers,
		FetchPageSize:  s.FetchPageSize,
		RequestTimeout: s.RequestTimeout,
		SMTPHost:       s.Email.SMTPHost,
		SMTPPort:       s.Email.SMTPPort,
		SenderEmail:    s.Email.SenderEmail,
		AdminEmails:    emails,
	}
}

// GetConfigOutput represents the full configuration response.
type GetConfigOutput struct {
	Body struct {
		Clients  []ClientView `json:"clients"`
		Settings SettingsView `json:"settings"`
	}
}

// GetConfig returns the full document: every client (enabled or not) plus
// the run settings, with secrets masked.
func (h *ConfigHandler) GetConfig(ctx context.Context, input *struct{}) (*GetConfigOutput, error) {
	doc, err := h.store.Raw()
	if err != nil {
		h.logger.Error("failed to read configuration", "error", err)
		return nil, huma.Error500InternalServerError("failed to read configuration")
	}

	out := &GetConfigOutput{}
	out.Body.Clients = make([]ClientView, 0, len(doc.Clients))
	for _, c := range doc.Clients {
		out.Body.Clients = append(out.Body.Clients, toView(c))
	}
	out.Body.Settings = toSettingsView(doc.Settings)
	return out, nil
}

// UpdateSettingsInput represents a partial settings update.
type UpdateSettingsInput struct {
	Body config.SettingsPatch
}

// SettingsOutput wraps the effective settings after an update.
type SettingsOutput struct {
	Body SettingsView
}

// UpdateSettings applies a partial settings update.
func (h *ConfigHandler) UpdateSettings(ctx context.Context, input *UpdateSettingsInput) (*SettingsOutput, error) {
	settings, err := h.store.UpdateSettings(input.Body)
	if err != nil {
		h.logger.Error("failed to update settings", "error", err)
		return nil, huma.Error500InternalServerError("failed to update settings")
	}
	return &SettingsOutput{Body: toSettingsView(settings)}, nil
}

// ListClientsOutput represents the client list response.
type ListClientsOutput struct {
	Body struct {
		Clients []ClientView `json:"clients"`
	}
}

// ListClients returns every configured client, enabled or not.
func (h *ConfigHandler) ListClients(ctx context.Context, input *struct{}) (*ListClientsOutput, error) {
	clients, err := h.store.Clients()
	if err != nil {
		h.logger.Error("failed to list clients", "error", err)
		return nil, huma.Error500InternalServerError("failed to list clients")
	}
	out := &ListClientsOutput{}
	out.Body.Clients = make([]ClientView, 0, len(clients))
	for _, c := range clients {
		out.Body.Clients = append(out.Body.Clients, toView(c))
	}
	return out, nil
}

// CreateClientInput represents a new client registration.
type CreateClientInput struct {
	Body struct {
		Name        string `json:"name" minLength:"1" maxLength:"128" doc:"Unique client name"`
		BaseURL     string `json:"base_url" format:"uri" doc:"Client API base URL"`
		APIKey      string `json:"api_key" minLength:"1" doc:"Client API key"`
		TablePrefix string `json:"table_prefix,omitempty" doc:"Database table prefix, defaults to pw_"`
		Enabled     *bool  `json:"enabled,omitempty" doc:"Whether the client participates in runs, defaults to true"`
	}
}

// ClientOutput wraps a single client response.
type ClientOutput struct {
	Status int
	Body   ClientView
}

// CreateClient registers a new client. Names are unique case-insensitively.
func (h *ConfigHandler) CreateClient(ctx context.Context, input *CreateClientInput) (*ClientOutput, error) {
	enabled := true
	if input.Body.Enabled != nil {
		enabled = *input.Body.Enabled
	}
	client, err := h.store.AddClient(models.ClientConfig{
		Name:        strings.TrimSpace(input.Body.Name),
		BaseURL:     input.Body.BaseURL,
		APIKey:      input.Body.APIKey,
		TablePrefix: input.Body.TablePrefix,
		Enabled:     enabled,
	})
	if err != nil {
		if errors.Is(err, config.ErrDuplicateClient) {
			return nil, huma.Error409Conflict("client already exists: " + input.Body.Name)
		}
		h.logger.Error("failed to create client", "error", err)
		return nil, huma.Error500InternalServerError("failed to create client")
	}
	return &ClientOutput{Status: 201, Body: toView(client)}, nil
}

// UpdateClientInput represents a partial client update.
type UpdateClientInput struct {
	Name string              `path:"name" doc:"Client name (case-insensitive)"`
	Body config.ClientPatch
}

// UpdateClient applies a partial update to one client. A masked API key
// round-tripped from GetConfig/ListClients is treated as "unchanged" so a
// client PUTting back a fetched document does not overwrite the real key
// with the mask.
func (h *ConfigHandler) UpdateClient(ctx context.Context, input *UpdateClientInput) (*ClientOutput, error) {
	if input.Body.APIKey != nil && strings.HasPrefix(*input.Body.APIKey, "****") {
		input.Body.APIKey = nil
	}
	client, err := h.store.UpdateClient(input.Name, input.Body)
	if err != nil {
		switch {
		case errors.Is(err, config.ErrClientNotFound):
			return nil, huma.Error404NotFound("client not found: " + input.Name)
		case errors.Is(err, config.ErrDuplicateClient):
			return nil, huma.Error409Conflict("client name already in use")
		default:
			h.logger.Error("failed to update client", "error", err)
			return nil, huma.Error500InternalServerError("failed to update client")
		}
	}
	return &ClientOutput{Body: toView(client)}, nil
}

// DeleteClientInput identifies the client to remove.
type DeleteClientInput struct {
	Name string `path:"name" doc:"Client name (case-insensitive)"`
}

// DeleteClientOutput represents a successful deletion.
type DeleteClientOutput struct {
	Body struct {
		Deleted string `json:"deleted"`
	}
}

// DeleteClient removes a client from the configuration.
func (h *ConfigHandler) DeleteClient(ctx context.Context, input *DeleteClientInput) (*DeleteClientOutput, error) {
	if err := h.store.DeleteClient(input.Name); err != nil {
		if errors.Is(err, config.ErrClientNotFound) {
			return nil, huma.Error404NotFound("client not found: " + input.Name)
		}
		h.logger.Error("failed to delete client", "error", err)
		return nil, huma.Error500InternalServerError("failed to delete client")
	}
	out := &DeleteClientOutput{}
	out.Body.Deleted = input.Name
	return out, nil
}
