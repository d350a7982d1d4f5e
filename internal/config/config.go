package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/blockadesystems/creditportal/internal/envelope"
)

type Config struct {
	// Public settings shared with the browser (names kept from the original front-end build).
	APIBaseURL         string `env:"NEXT_PUBLIC_API_BASE_URL"`         // Base URL of the remote REST API
	AuthorizeLoginID   string `env:"NEXT_PUBLIC_AUTHORIZE_LOGIN_ID"`   // Payment gateway API login id for Accept.js
	AuthorizeClientKey string `env:"NEXT_PUBLIC_AUTHORIZE_CLIENT_KEY"` // Payment gateway public client key for Accept.js
	AcceptJSURL        string `env:"NEXT_PUBLIC_ACCEPTJS_URL"`         // Tokenization script URL

	// Server settings.
	DataDir        string        `env:"PORTAL_DATA_DIR" envDefault:"./data"`                  // Holds the self-signed TLS pair
	HTTPSAddress   string        `env:"PORTAL_HTTPS_ADDRESS" envDefault:":8443"`              // The address to listen on for HTTPS
	HTTPAddress    string        `env:"PORTAL_HTTP_ADDRESS" envDefault:":8080"`               // The address to listen on when TLS is disabled
	TLSEnabled     bool          `env:"PORTAL_TLS_ENABLED" envDefault:"true"`                 // Serve HTTPS with HTTPSCertFile/HTTPSKeyFile
	HTTPSCertFile  string        `env:"PORTAL_HTTPS_CERT_FILE" envDefault:"./data/https.crt"` // Path to the HTTPS certificate file
	HTTPSKeyFile   string        `env:"PORTAL_HTTPS_KEY_FILE" envDefault:"./data/https.key"`  // Path to the HTTPS private key file
	CommonName     string        `env:"PORTAL_COMMON_NAME" envDefault:"localhost"`            // Subject of the generated self-signed certificate
	SecureCookies  bool          `env:"PORTAL_SECURE_COOKIES" envDefault:"true"`              // Mark session and flash cookies Secure
	APITimeout     time.Duration `env:"PORTAL_API_TIMEOUT" envDefault:"30s"`                  // Static per-client timeout for backend calls
	MaxUploadBytes int64         `env:"PORTAL_MAX_UPLOAD_BYTES" envDefault:"10485760"`        // Per-document upload ceiling
	EnvelopeScheme string        `env:"PORTAL_ENVELOPE_SCHEME" envDefault:"aes-256-cbc"`      // Symmetric half of the submission envelope
	LogLevel       string        `env:"PORTAL_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig loads the portal configuration from environment variables or defaults.
// Missing public settings are not an error; see Problems.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")

	if _, err := envelope.ParseScheme(cfg.EnvelopeScheme); err != nil {
		return nil, fmt.Errorf("config: PORTAL_ENVELOPE_SCHEME: %w", err)
	}
	if cfg.APITimeout <= 0 {
		return nil, fmt.Errorf("config: PORTAL_API_TIMEOUT must be positive, got %s", cfg.APITimeout)
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("config: PORTAL_MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	return cfg, nil
}

// Scheme returns the validated envelope scheme.
func (c *Config) Scheme() envelope.Scheme {
	s, err := envelope.ParseScheme(c.EnvelopeScheme)
	if err != nil {
		return envelope.SchemeCBC
	}
	return s
}

// Problems lists configuration gaps to show in the page banner.
func (c *Config) Problems() []string {
	var out []string
	if c.APIBaseURL == "" {
		out = append(out, "NEXT_PUBLIC_API_BASE_URL is not set; the portal cannot reach the API.")
	} else if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		out = append(out, "NEXT_PUBLIC_API_BASE_URL is not a valid absolute URL.")
	}
	if !c.PaymentsConfigured() {
		out = append(out, "Payment settings (NEXT_PUBLIC_AUTHORIZE_LOGIN_ID, NEXT_PUBLIC_AUTHORIZE_CLIENT_KEY, NEXT_PUBLIC_ACCEPTJS_URL) are incomplete; online payment is unavailable.")
	}
	return out
}

// PaymentsConfigured reports whether the tokenization settings are complete.
func (c *Config) PaymentsConfigured() bool {
	return c.AuthorizeLoginID != "" && c.AuthorizeClientKey != "" && c.AcceptJSURL != ""
}

// ListenAddress is the address the server binds to.
func (c *Config) ListenAddress() string {
	if c.TLSEnabled {
		return c.HTTPSAddress
	}
	return c.HTTPAddress
}
