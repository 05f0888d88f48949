package config

import (
	"fmt"
	"regexp"
)

// safePathPattern constrains webhook paths to a conservative character
// set so routes cannot collide with encoding tricks.
var safePathPattern = regexp.MustCompile(`^/[a-zA-Z0-9/_.-]+$`)

// healthPath is reserved for the liveness endpoint.
const healthPath = "/health"

// Webhook auth modes.
const (
	AuthBearer     = "bearer"
	AuthHMACSHA256 = "hmac-sha256"
	AuthHMACSHA1   = "hmac-sha1"
	AuthNone       = "none"
)

// ServerConfig holds the HTTP listener settings for webhook reception.
type ServerConfig struct {
	Host         string `yaml:"host,omitempty"`
	Port         int    `yaml:"port,omitempty"`
	RateLimit    int    `yaml:"rate_limit,omitempty"` // requests per minute per webhook
	MaxBodyBytes int    `yaml:"max_body_bytes,omitempty"`
}

// WebhookConfig configures one webhook endpoint.
type WebhookConfig struct {
	ID             string `yaml:"id"`
	Path           string `yaml:"path"`
	Engine         string `yaml:"engine,omitempty"`
	Auth           string `yaml:"auth,omitempty"`
	Secret         string `yaml:"secret,omitempty"`
	PromptTemplate string `yaml:"prompt_template"`
	EventFilter    string `yaml:"event_filter,omitempty"`
}

// CronConfig configures one scheduled trigger.
type CronConfig struct {
	ID       string `yaml:"id"`
	Schedule string `yaml:"schedule"`
	Engine   string `yaml:"engine,omitempty"`
	Prompt   string `yaml:"prompt"`
}

// TriggersConfig is the top-level trigger system configuration.
type TriggersConfig struct {
	Enabled  bool            `yaml:"enabled,omitempty"`
	Server   ServerConfig    `yaml:"server,omitempty"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
	Crons    []CronConfig    `yaml:"crons,omitempty"`
}

func (t TriggersConfig) validate() error {
	if t.Server.Port < 1 || t.Server.Port > 65535 {
		return fmt.Errorf("triggers.server.port must be between 1 and 65535, got %d", t.Server.Port)
	}
	if t.Server.RateLimit < 1 {
		return fmt.Errorf("triggers.server.rate_limit must be at least 1")
	}
	if t.Server.MaxBodyBytes < minBodyFloor || t.Server.MaxBodyBytes > maxBodyCeiling {
		return fmt.Errorf("triggers.server.max_body_bytes must be between %d and %d", minBodyFloor, maxBodyCeiling)
	}

	ids := make(map[string]bool)
	pathsSeen := make(map[string]bool)
	for _, w := range t.Webhooks {
		if w.ID == "" {
			return fmt.Errorf("webhook with empty id")
		}
		if ids[w.ID] {
			return fmt.Errorf("duplicate webhook id: %s", w.ID)
		}
		ids[w.ID] = true

		if w.Path == healthPath {
			return fmt.Errorf("webhook %s: path %s is reserved", w.ID, healthPath)
		}
		if !safePathPattern.MatchString(w.Path) {
			return fmt.Errorf("webhook %s: path %q must start with '/' and use only alphanumerics, slashes, underscores, dots, and hyphens", w.ID, w.Path)
		}
		if pathsSeen[w.Path] {
			return fmt.Errorf("duplicate webhook path: %s", w.Path)
		}
		pathsSeen[w.Path] = true

		auth := w.Auth
		if auth == "" {
			auth = AuthBearer
		}
		switch auth {
		case AuthBearer, AuthHMACSHA256, AuthHMACSHA1:
			if w.Secret == "" {
				return fmt.Errorf("webhook %s: secret is required when auth=%s", w.ID, auth)
			}
		case AuthNone:
		default:
			return fmt.Errorf("webhook %s: unknown auth mode %q", w.ID, auth)
		}
		if w.PromptTemplate == "" {
			return fmt.Errorf("webhook %s: prompt_template is required", w.ID)
		}
	}

	cronIDs := make(map[string]bool)
	for _, cr := range t.Crons {
		if cr.ID == "" {
			return fmt.Errorf("cron with empty id")
		}
		if cronIDs[cr.ID] {
			return fmt.Errorf("duplicate cron id: %s", cr.ID)
		}
		cronIDs[cr.ID] = true
		if cr.Schedule == "" {
			return fmt.Errorf("cron %s: schedule is required", cr.ID)
		}
		if cr.Prompt == "" {
			return fmt.Errorf("cron %s: prompt is required", cr.ID)
		}
	}
	return nil
}

// AuthMode returns the webhook's effective auth mode, defaulting to
// bearer.
func (w WebhookConfig) AuthMode() string {
	if w.Auth == "" {
		return AuthBearer
	}
	return w.Auth
}
