// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package geolocation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/logging"
)

// ErrRateLimited is returned when a provider's request budget is spent.
var ErrRateLimited = errors.New("geolocation rate limit exceeded")

// Resolver looks up the country name of a public IP address.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ip string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, ip string) (string, error) {
	return f(ctx, ip)
}

// ========================================
// ip-api.com (free, no key)
// ========================================

// IPAPIResolver uses the free ip-api.com JSON endpoint. The free tier allows
// 45 requests per minute; requests over budget fail fast with ErrRateLimited
// rather than stalling a processing lane.
type IPAPIResolver struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

type ipAPIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Country string `json:"country"`
}

// NewIPAPIResolver creates an ip-api.com resolver allowing perMinute lookups.
func NewIPAPIResolver(perMinute int, timeout time.Duration) *IPAPIResolver {
	if perMinute <= 0 {
		perMinute = 45
	}
	return &IPAPIResolver{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		baseURL: "http://ip-api.com/json",
	}
}

func (r *IPAPIResolver) Resolve(ctx context.Context, ip string) (string, error) {
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}
	if !r.limiter.Allow() {
		return "", ErrRateLimited
	}

	url := fmt.Sprintf("%s/%s?fields=status,message,country", r.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query ip-api.com: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip-api.com returned status %d", resp.StatusCode)
	}

	var result ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode ip-api.com response: %w", err)
	}
	if result.Status != "success" {
		return "", fmt.Errorf("ip-api.com lookup failed: %s", result.Message)
	}
	return result.Country, nil
}

// ========================================
// MaxMind GeoLite2 web service
// ========================================

// MaxMindResolver uses the GeoLite2 country web service with an account ID
// and license key as basic auth credentials.
type MaxMindResolver struct {
	client     *http.Client
	accountID  string
	licenseKey string
	baseURL    string
}

type maxMindResponse struct {
	Country struct {
		ISOCode string            `json:"iso_code"`
		Names   map[string]string `json:"names"`
	} `json:"country"`
}

type maxMindErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// NewMaxMindResolver creates a GeoLite2 resolver.
func NewMaxMindResolver(accountID, licenseKey string, timeout time.Duration) *MaxMindResolver {
	return &MaxMindResolver{
		client:     &http.Client{Timeout: timeout},
		accountID:  accountID,
		licenseKey: licenseKey,
		baseURL:    "https://geolite.info/geoip/v2.1/country",
	}
}

func (r *MaxMindResolver) Resolve(ctx context.Context, ip string) (string, error) {
	if r.accountID == "" || r.licenseKey == "" {
		return "", fmt.Errorf("MaxMind credentials not configured")
	}
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+ip, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(r.accountID, r.licenseKey)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query MaxMind: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp maxMindErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return "", fmt.Errorf("MaxMind error (%s): %s", errResp.Code, errResp.Error)
		}
		return "", fmt.Errorf("MaxMind returned status %d", resp.StatusCode)
	}

	var result maxMindResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode MaxMind response: %w", err)
	}
	if name := result.Country.Names["en"]; name != "" {
		return name, nil
	}
	if result.Country.ISOCode != "" {
		return result.Country.ISOCode, nil
	}
	return "", fmt.Errorf("MaxMind returned no country for %s", ip)
}

// ========================================
// Composition
// ========================================

type namedResolver struct {
	name string
	Resolver
}

// Chain tries resolvers in order until one succeeds.
type Chain struct {
	resolvers []namedResolver
}

// NewChain creates an empty chain. Use Add to append resolvers.
func NewChain() *Chain {
	return &Chain{}
}

// Add appends a resolver and returns the chain.
func (c *Chain) Add(name string, r Resolver) *Chain {
	c.resolvers = append(c.resolvers, namedResolver{name: name, Resolver: r})
	return c
}

// Len returns the number of resolvers in the chain.
func (c *Chain) Len() int {
	return len(c.resolvers)
}

func (c *Chain) Resolve(ctx context.Context, ip string) (string, error) {
	var lastErr error
	for _, r := range c.resolvers {
		country, err := r.Resolve(ctx, ip)
		if err == nil && country != "" {
			return country, nil
		}
		if err == nil {
			err = fmt.Errorf("empty country")
		}
		logging.Debug().Err(err).Str("provider", r.name).Str("ip", ip).Msg("Geolocation provider failed")
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("all geolocation providers failed for %s: %w", ip, lastErr)
	}
	return "", fmt.Errorf("no geolocation providers configured")
}

// NewFromConfig builds the provider chain named in cfg, each provider
// behind its own circuit breaker.
func NewFromConfig(cfg *config.GeolocationConfig) Resolver {
	chain := NewChain()
	for _, name := range cfg.Providers {
		switch name {
		case "ipapi":
			chain.Add(name, NewBreaker("geo-ipapi", NewIPAPIResolver(cfg.IPAPIRatePerMin, cfg.Timeout)))
		case "maxmind":
			if cfg.MaxMindAccountID == "" || cfg.MaxMindLicenseKey == "" {
				logging.Warn().Msg("MaxMind provider configured without credentials, skipping")
				continue
			}
			chain.Add(name, NewBreaker("geo-maxmind", NewMaxMindResolver(cfg.MaxMindAccountID, cfg.MaxMindLicenseKey, cfg.Timeout)))
		}
	}
	return chain
}
