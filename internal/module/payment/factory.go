package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shopora/server/internal/module/payment/gateway"
)

// Builder constructs a gateway adapter from its stored configuration.
type Builder func(gateway.Config) (gateway.Gateway, error)

type cacheEntry struct {
	gw        gateway.Gateway
	cfg       *GatewayConfig
	expiresAt time.Time
}

// Factory materializes gateway adapters from persisted configuration.
// Built adapters are cached with a TTL so a config change (rotated
// credentials, disabled gateway) is picked up without a restart, while
// the hot path stays off the database.
type Factory struct {
	repo       Repository
	httpClient gateway.HTTPDoer
	ttl        time.Duration
	log        *zap.Logger

	mu       sync.RWMutex
	builders map[string]Builder
	cache    map[string]*cacheEntry
}

// NewFactory creates a factory with all known gateway builders registered.
func NewFactory(repo Repository, httpClient gateway.HTTPDoer, ttl time.Duration, log *zap.Logger) *Factory {
	f := &Factory{
		repo:       repo,
		httpClient: httpClient,
		ttl:        ttl,
		log:        log.Named("gateway_factory"),
		builders:   make(map[string]Builder),
		cache:      make(map[string]*cacheEntry),
	}
	f.Register("payu", gateway.NewPayU)
	f.Register("razorpay", gateway.NewRazorpay)
	f.Register("phonepe", gateway.NewPhonePe)
	f.Register("cashfree", gateway.NewCashfree)
	f.Register("cod", gateway.NewCOD)
	f.Register("stripe", gateway.NewStripe)
	return f
}

// Register adds a builder for a gateway key.
func (f *Factory) Register(key string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[key] = b
}

// Gateway returns the adapter and configuration for key. Unknown keys
// yield ErrUnsupportedGateway; known but disabled ones ErrGatewayDisabled.
func (f *Factory) Gateway(ctx context.Context, key string) (gateway.Gateway, *GatewayConfig, error) {
	f.mu.RLock()
	builder, known := f.builders[key]
	entry, cached := f.cache[key]
	f.mu.RUnlock()

	if !known {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, key)
	}
	if cached && time.Now().Before(entry.expiresAt) {
		if !entry.cfg.Enabled {
			return nil, nil, fmt.Errorf("%w: %s", ErrGatewayDisabled, key)
		}
		return entry.gw, entry.cfg, nil
	}

	cfg, err := f.repo.GetGatewayConfig(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	gw, err := f.materialize(builder, cfg)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Enabled {
		return nil, nil, fmt.Errorf("%w: %s", ErrGatewayDisabled, key)
	}
	return gw, cfg, nil
}

func (f *Factory) materialize(builder Builder, cfg *GatewayConfig) (gateway.Gateway, error) {
	gw, err := builder(gateway.Config{
		Production:  cfg.Production,
		Credentials: cfg.CredentialMap(),
		HTTPClient:  f.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("build gateway %s: %w", cfg.Key, err)
	}
	f.mu.Lock()
	f.cache[cfg.Key] = &cacheEntry{gw: gw, cfg: cfg, expiresAt: time.Now().Add(f.ttl)}
	f.mu.Unlock()
	return gw, nil
}

// Rank returns the enabled gateway configurations that accept amount,
// ordered by descending priority. A config only ranks if its adapter
// actually constructs, so a gateway with missing credentials is never
// advertised and then refused at initiation.
func (f *Factory) Rank(ctx context.Context, amountPaise int64) ([]*GatewayConfig, error) {
	configs, err := f.repo.ListEnabledGatewayConfigs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*GatewayConfig, 0, len(configs))
	for _, cfg := range configs {
		f.mu.RLock()
		builder, known := f.builders[cfg.Key]
		entry, cached := f.cache[cfg.Key]
		f.mu.RUnlock()
		if !known {
			f.log.Warn("enabled gateway has no builder", zap.String("gateway", cfg.Key))
			continue
		}
		if !cached || time.Now().After(entry.expiresAt) {
			if _, err := f.materialize(builder, cfg); err != nil {
				f.log.Warn("enabled gateway failed to build, not advertising",
					zap.String("gateway", cfg.Key), zap.Error(err))
				continue
			}
		}
		if cfg.Accepts(amountPaise) {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// ClearCache drops all cached adapters so the next call re-reads
// configuration. Exposed to admins for immediate credential rotation.
func (f *Factory) ClearCache() {
	f.mu.Lock()
	f.cache = make(map[string]*cacheEntry)
	f.mu.Unlock()
	f.log.Info("gateway cache cleared")
}
