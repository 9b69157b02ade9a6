package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/cache"
)

// Provider tokens live for 60 minutes; caching for 55 keeps a safety margin
// so a cached token is never presented after real expiry.
const tokenTTL = 55 * time.Minute

// TokenSource caches OAuth bearer tokens per provider-credential pair in the
// shared cache. Concurrent cache misses may each hit the token endpoint;
// token endpoints are idempotent and cheap, so no single-flight lock.
type TokenSource struct {
	cache    cache.Cache
	provider Type
	key      string
	fetch    func(ctx context.Context) (string, error)
}

// NewTokenSource builds a token source. credentialID distinguishes cache
// entries when the same provider is configured with different credentials.
func NewTokenSource(c cache.Cache, provider Type, credentialID string, fetch func(ctx context.Context) (string, error)) *TokenSource {
	return &TokenSource{
		cache:    c,
		provider: provider,
		key:      "momo_token:" + string(provider) + ":" + credentialID,
		fetch:    fetch,
	}
}

// Token returns a bearer token, from cache unless forceRefresh is set or the
// cached entry expired. A failed or malformed token endpoint response
// surfaces as AuthError from the fetch func.
func (s *TokenSource) Token(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if tok, ok, err := s.cache.Get(ctx, s.key); err == nil && ok {
			log.Debug().Str("provider", string(s.provider)).Msg("using cached access token")
			return tok, nil
		}
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, s.key, tok, tokenTTL); err != nil {
		// A cache write failure only costs an extra token call later.
		log.Warn().Err(err).Str("provider", string(s.provider)).Msg("failed to cache access token")
	}
	log.Info().Str("provider", string(s.provider)).Msg("access token obtained and cached")
	return tok, nil
}

// Invalidate evicts the cached token, e.g. after the provider rejected it.
func (s *TokenSource) Invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, s.key); err != nil {
		log.Warn().Err(err).Str("provider", string(s.provider)).Msg("failed to invalidate token cache")
	}
}
