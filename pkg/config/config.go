package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"wfscript/pkg/engine"
)

// Config is the process configuration. Every field has a WFSCRIPT_* variable.
type Config struct {
	Env            string
	Addr           string
	Policy         string
	PolicyFile     string
	MaxDepth       int
	MaxSourceBytes int
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit   int
	RateWindow  time.Duration
	CORSOrigins []string
	BlockedIPs  []string
	Brotli      bool
	WAF         bool
}

func defaults() *Config {
	return &Config{
		Env:            "development",
		Addr:           ":8080",
		Policy:         "sdk",
		MaxDepth:       engine.DefaultMaxDepth,
		MaxSourceBytes: engine.DefaultMaxSourceBytes,
		RateLimit:      60,
		RateWindow:     time.Minute,
		CORSOrigins:    []string{"*"},
		Brotli:         true,
	}
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	c := defaults()
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := cast.ToIntE(strings.TrimSpace(v))
			if err != nil || n < 0 {
				errs = append(errs, fmt.Errorf("%s: expected a non-negative integer, got %q", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := cast.ToBoolE(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: expected true or false, got %q", key, v))
				return
			}
			*dst = b
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			var out []string
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					out = append(out, item)
				}
			}
			*dst = out
		}
	}

	str("WFSCRIPT_ENV", &c.Env)
	str("WFSCRIPT_ADDR", &c.Addr)
	str("WFSCRIPT_POLICY", &c.Policy)
	str("WFSCRIPT_POLICY_FILE", &c.PolicyFile)
	num("WFSCRIPT_MAX_DEPTH", &c.MaxDepth)
	num("WFSCRIPT_MAX_SOURCE_BYTES", &c.MaxSourceBytes)
	num("WFSCRIPT_RATE_LIMIT", &c.RateLimit)
	window := int(c.RateWindow / time.Second)
	num("WFSCRIPT_RATE_WINDOW", &window)
	c.RateWindow = time.Duration(window) * time.Second
	list("WFSCRIPT_CORS_ORIGINS", &c.CORSOrigins)
	list("WFSCRIPT_BLOCKED_IPS", &c.BlockedIPs)
	flag("WFSCRIPT_BROTLI", &c.Brotli)
	flag("WFSCRIPT_WAF", &c.WAF)

	if c.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("WFSCRIPT_RATE_WINDOW must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// IsProduction reports whether Env selects production behaviour.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// BuildPolicy resolves the named preset, applies the limits and then the
// optional YAML policy file.
func (c *Config) BuildPolicy() (*engine.Policy, error) {
	return BuildPolicy(c.Policy, c.PolicyFile, c.MaxDepth, c.MaxSourceBytes)
}

// BuildPolicy is the Config-free form used by the CLI flags.
func BuildPolicy(name, file string, maxDepth, maxSourceBytes int) (*engine.Policy, error) {
	base, err := engine.PolicyByName(name)
	if err != nil {
		return nil, err
	}
	overrides := engine.PolicyOverrides{MaxDepth: maxDepth, MaxSourceBytes: maxSourceBytes}
	if file != "" {
		fromFile, err := LoadPolicyFile(file)
		if err != nil {
			return nil, err
		}
		overrides = merge(overrides, fromFile)
	}
	return base.Extend(overrides)
}

// LoadPolicyFile reads policy overrides from YAML:
//
//	allowed_functions: [httpRequest]
//	allowed_methods: [pin]
//	max_depth: 64
func LoadPolicyFile(path string) (engine.PolicyOverrides, error) {
	var o engine.PolicyOverrides
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("failed to read policy file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty file decodes to io.EOF and means no overrides
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return o, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return o, nil
}

// merge applies file values over the env limits. Lists are appended.
func merge(base, file engine.PolicyOverrides) engine.PolicyOverrides {
	base.AllowedFunctions = append(base.AllowedFunctions, file.AllowedFunctions...)
	base.AllowedMethods = append(base.AllowedMethods, file.AllowedMethods...)
	base.DangerousGlobals = append(base.DangerousGlobals, file.DangerousGlobals...)
	base.ForbiddenKinds = append(base.ForbiddenKinds, file.ForbiddenKinds...)
	if file.MaxDepth > 0 {
		base.MaxDepth = file.MaxDepth
	}
	if file.MaxSourceBytes > 0 {
		base.MaxSourceBytes = file.MaxSourceBytes
	}
	return base
}
