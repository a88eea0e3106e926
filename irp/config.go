package irp

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alapierre/go-irp-client/irp/quota"
	"github.com/alapierre/go-irp-client/irp/util"
	"github.com/alapierre/go-irp-client/irp/validation"
	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxAttempts    = 3
)

type SignatureMode string

const (
	// SignatureNone sends no signature header.
	SignatureNone SignatureMode = "none"
	// SignaturePlaceholder sends a content hash in place of a signature. Not production-grade.
	SignaturePlaceholder SignatureMode = "placeholder"
	// SignaturePKCS8 signs the body with a PKCS#8 private key.
	SignaturePKCS8 SignatureMode = "pkcs8"
)

// Timeouts per operation; zero falls back to Config.RequestTimeout.
type Timeouts struct {
	Auth     time.Duration `yaml:"auth" json:"auth,omitempty"`
	Generate time.Duration `yaml:"generate" json:"generate,omitempty"`
	Cancel   time.Duration `yaml:"cancel" json:"cancel,omitempty"`
	Fetch    time.Duration `yaml:"fetch" json:"fetch,omitempty"`
}

type Config struct {
	Environment         Environment   `yaml:"environment" json:"environment"`
	TaxID               string        `yaml:"tax_id" json:"taxId"`
	Username            string        `yaml:"username" json:"username"`
	Password            string        `yaml:"password" json:"password"`
	ClientID            string        `yaml:"client_id" json:"clientId"`
	ClientSecret        string        `yaml:"client_secret" json:"clientSecret"`
	BaseURL             string        `yaml:"base_url" json:"baseUrl,omitempty"`
	CertificatePath     string        `yaml:"certificate_path" json:"certificatePath,omitempty"`
	CertificatePassword string        `yaml:"certificate_password" json:"certificatePassword,omitempty"`
	SignatureMode       SignatureMode `yaml:"signature_mode" json:"signatureMode,omitempty"`
	RequestTimeout      time.Duration `yaml:"request_timeout" json:"requestTimeout"`
	Timeouts            Timeouts      `yaml:"timeouts" json:"timeouts"`
	// MaxAttempts counts every attempt of one call, the first included (IRP_MAX_ATTEMPTS).
	MaxAttempts         int           `yaml:"max_attempts" json:"maxAttempts"`
	Quota               quota.Limits  `yaml:"quota" json:"quota"`
}

// DefaultConfig returns a sandbox configuration without credentials.
func DefaultConfig() Config {
	return Config{
		Environment:    Sandbox,
		RequestTimeout: DefaultRequestTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		Quota:          quota.DefaultLimits,
	}
}

// ConfigFromEnv builds a configuration from IRP_* environment variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML configuration; IRP_* environment variables override its values.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, configError("parse %s: %v", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := lookup("IRP_ENV"); ok {
		if err := c.Environment.UnmarshalText([]byte(v)); err != nil {
			return configError("%v", err)
		}
	}

	strs := map[string]*string{
		"IRP_TAX_ID":        &c.TaxID,
		"IRP_USERNAME":      &c.Username,
		"IRP_PASSWORD":      &c.Password,
		"IRP_CLIENT_ID":     &c.ClientID,
		"IRP_CLIENT_SECRET": &c.ClientSecret,
		"IRP_BASE_URL":      &c.BaseURL,
		"IRP_CERT_PATH":     &c.CertificatePath,
		"IRP_CERT_PASSWORD": &c.CertificatePassword,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("IRP_SIGNATURE_MODE"); ok {
		c.SignatureMode = SignatureMode(strings.ToLower(v))
	}

	durations := map[string]*time.Duration{
		"IRP_TIMEOUT":          &c.RequestTimeout,
		"IRP_AUTH_TIMEOUT":     &c.Timeouts.Auth,
		"IRP_GENERATE_TIMEOUT": &c.Timeouts.Generate,
		"IRP_CANCEL_TIMEOUT":   &c.Timeouts.Cancel,
		"IRP_FETCH_TIMEOUT":    &c.Timeouts.Fetch,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := parseDuration(v)
			if err != nil {
				return configError("%s: %v", key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"IRP_MAX_ATTEMPTS":     &c.MaxAttempts,
		"IRP_QUOTA_PER_SECOND": &c.Quota.PerSecond,
		"IRP_QUOTA_PER_MINUTE": &c.Quota.PerMinute,
		"IRP_QUOTA_PER_HOUR":   &c.Quota.PerHour,
		"IRP_QUOTA_PER_DAY":    &c.Quota.PerDay,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return configError("%s: %v", key, err)
			}
			*dst = n
		}
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := util.GetEnvOrDefault(key, "")
	return v, v != ""
}

// parseDuration accepts Go durations ("45s") and bare seconds ("45").
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate reports every missing or malformed field in one error.
func (c Config) Validate() error {
	var problems []string

	required := []struct {
		name, value string
	}{
		{"tax id (IRP_TAX_ID)", c.TaxID},
		{"username (IRP_USERNAME)", c.Username},
		{"password (IRP_PASSWORD)", c.Password},
		{"client id (IRP_CLIENT_ID)", c.ClientID},
		{"client secret (IRP_CLIENT_SECRET)", c.ClientSecret},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		problems = append(problems, "missing "+strings.Join(missing, ", "))
	}

	if c.TaxID != "" && !validation.ValidTaxID(c.TaxID) {
		problems = append(problems, "tax id "+c.TaxID+" is not a valid GSTIN")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			problems = append(problems, "base url must be an absolute http(s) URL")
		}
	}
	switch c.SignatureMode {
	case "", SignatureNone:
	case SignaturePlaceholder:
		if c.CertificatePath == "" {
			problems = append(problems, "placeholder signature requires a certificate path")
		}
	case SignaturePKCS8:
		if c.CertificatePath == "" || c.CertificatePassword == "" {
			problems = append(problems, "pkcs8 signature requires certificate path and password")
		}
	default:
		problems = append(problems, "unknown signature mode "+string(c.SignatureMode))
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, "max attempts must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "request timeout must be positive")
	}
	for _, d := range []time.Duration{c.Timeouts.Auth, c.Timeouts.Generate, c.Timeouts.Cancel, c.Timeouts.Fetch} {
		if d < 0 {
			problems = append(problems, "operation timeouts must not be negative")
			break
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &ApiError{
		Kind:    KindConfig,
		Message: strings.Join(problems, "; "),
		Err:     ErrInvalidConfig,
	}
}

func configError(format string, args ...any) error {
	return &ApiError{Kind: KindConfig, Message: fmt.Sprintf(format, args...), Err: ErrInvalidConfig}
}

// ResolvedBaseURL is the custom base URL when set, otherwise the environment's.
func (c Config) ResolvedBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return c.Environment.BaseURL()
}

// TimeoutFor returns the timeout of a single attempt of op.
func (c Config) TimeoutFor(op Operation) time.Duration {
	var d time.Duration
	switch op {
	case OpAuth:
		d = c.Timeouts.Auth
	case OpGenerate:
		d = c.Timeouts.Generate
	case OpCancel:
		d = c.Timeouts.Cancel
	case OpFetch:
		d = c.Timeouts.Fetch
	}
	if d > 0 {
		return d
	}
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return DefaultRequestTimeout
}

// Masked returns a copy safe to log or expose.
func (c Config) Masked() Config {
	m := c
	m.Password = util.Mask(c.Password)
	m.ClientID = util.Mask(c.ClientID)
	m.ClientSecret = util.Mask(c.ClientSecret)
	m.CertificatePassword = util.Mask(c.CertificatePassword)
	return m
}
