package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort               = 8080
	defaultBasePath           = "/v1"
	defaultPlatformFeePercent = 0.10
	defaultIdempotencyTTL     = 24 * time.Hour
	secretScheme              = "secret://"
)

// Config aggregates all runtime configuration for the marketplace API.
type Config struct {
	Environment string
	Server      ServerConfig
	Firestore   FirestoreConfig
	Stripe      StripeConfig
	PubSub      PubSubConfig
	Fees        FeeConfig
	Idempotency IdempotencyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int
	BasePath string
}

// FirestoreConfig identifies the Firestore project and database backing persistence.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// StripeConfig carries payment processor credentials and webhook verification material.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	// AccountID is an optional platform-level account override; per-order
	// refunds run against the order's connected account instead.
	AccountID string
}

// PubSubConfig identifies the topic order/refund domain events are published to.
type PubSubConfig struct {
	ProjectID string
	TopicID   string
}

// FeeConfig controls marketplace fee computation defaults.
type FeeConfig struct {
	// PlatformFeePercent is the fallback take rate applied to the items
	// subtotal when checkout did not supply an explicit platform fee.
	PlatformFeePercent float64
}

// IdempotencyConfig controls the HTTP idempotency layer.
type IdempotencyConfig struct {
	TTL        time.Duration
	Collection string
}

// SecretResolver resolves secret:// references into plaintext values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to the SecretResolver interface.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports configuration fields that failed validation.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	fields := append([]string(nil), e.fields...)
	sort.Strings(fields)
	return "config: invalid fields: " + strings.Join(fields, ", ")
}

// Fields returns the invalid field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises configuration loading.
type Option func(*loaderOptions)

type loaderOptions struct {
	envMap       map[string]string
	useSystemEnv bool
	resolver     SecretResolver
}

// WithEnvMap overlays the provided values over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		if o.envMap == nil {
			o.envMap = make(map[string]string, len(values))
		}
		for k, v := range values {
			o.envMap[k] = v
		}
	}
}

// WithoutSystemEnv ignores system environment variables, mostly for tests.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver installs the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.resolver = resolver
	}
}

// Load reads configuration from the environment, resolves secret references,
// and validates required fields.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	loader := loaderOptions{useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&loader)
		}
	}

	get := func(key string) string {
		if v, ok := loader.envMap[key]; ok {
			return strings.TrimSpace(v)
		}
		if !loader.useSystemEnv {
			return ""
		}
		return strings.TrimSpace(os.Getenv(key))
	}

	cfg := Config{
		Environment: defaultString(get("APP_ENV"), "local"),
		Server: ServerConfig{
			Port:     defaultPort,
			BasePath: defaultString(get("API_BASE_PATH"), defaultBasePath),
		},
		Firestore: FirestoreConfig{
			ProjectID:    get("GOOGLE_CLOUD_PROJECT"),
			DatabaseID:   defaultString(get("FIRESTORE_DATABASE_ID"), "(default)"),
			EmulatorHost: get("FIRESTORE_EMULATOR_HOST"),
		},
		Stripe: StripeConfig{
			APIKey:        get("STRIPE_API_KEY"),
			WebhookSecret: get("STRIPE_WEBHOOK_SECRET"),
			AccountID:     get("STRIPE_ACCOUNT_ID"),
		},
		PubSub: PubSubConfig{
			ProjectID: defaultString(get("PUBSUB_PROJECT_ID"), get("GOOGLE_CLOUD_PROJECT")),
			TopicID:   get("PUBSUB_ORDER_EVENTS_TOPIC"),
		},
		Fees: FeeConfig{
			PlatformFeePercent: defaultPlatformFeePercent,
		},
		Idempotency: IdempotencyConfig{
			TTL:        defaultIdempotencyTTL,
			Collection: defaultString(get("IDEMPOTENCY_COLLECTION"), "idempotencyKeys"),
		},
	}

	var invalid []string

	if raw := get("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "PORT")
		} else {
			cfg.Server.Port = port
		}
	}

	if raw := get("PLATFORM_FEE_PERCENT"); raw != "" {
		pct, err := strconv.ParseFloat(raw, 64)
		if err != nil || pct < 0 || pct >= 1 {
			invalid = append(invalid, "PLATFORM_FEE_PERCENT")
		} else {
			cfg.Fees.PlatformFeePercent = pct
		}
	}

	if raw := get("IDEMPOTENCY_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "IDEMPOTENCY_TTL")
		} else {
			cfg.Idempotency.TTL = ttl
		}
	}

	var err error
	if cfg.Stripe.APIKey, err = resolveSecret(ctx, cfg.Stripe.APIKey, loader.resolver); err != nil {
		return Config{}, fmt.Errorf("config: resolve STRIPE_API_KEY: %w", err)
	}
	if cfg.Stripe.WebhookSecret, err = resolveSecret(ctx, cfg.Stripe.WebhookSecret, loader.resolver); err != nil {
		return Config{}, fmt.Errorf("config: resolve STRIPE_WEBHOOK_SECRET: %w", err)
	}

	if cfg.Firestore.ProjectID == "" {
		invalid = append(invalid, "GOOGLE_CLOUD_PROJECT")
	}
	if cfg.Stripe.APIKey == "" {
		invalid = append(invalid, "STRIPE_API_KEY")
	}

	if len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !strings.HasPrefix(value, secretScheme) {
		return value, nil
	}
	if resolver == nil {
		return "", fmt.Errorf("secret reference %q requires a resolver", value)
	}
	resolved, err := resolver.ResolveSecret(ctx, value)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resolved), nil
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
