package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/roadpay/roadpay/core"
)

const customerEmailCacheKeyPrefix = "roadpay::customer_email::v1"

// CachedCustomerDirectory fronts a customer directory with a cache.
// Email lookups run on every notification-bearing event, the mirror
// row almost never changes.
type CachedCustomerDirectory struct {
	base  core.CustomerDirectory
	cache repositorycache.CacheService
}

func NewCachedCustomerDirectory(
	base core.CustomerDirectory,
	cacheService repositorycache.CacheService,
) (*CachedCustomerDirectory, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base customer directory is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: customer cache service is required")
	}

	return &CachedCustomerDirectory{base: base, cache: cacheService}, nil
}

// CustomerEmailCacheKey returns the deterministic cache key for a
// customer email lookup: roadpay::customer_email::v1::<customer_id>
// with the id URL-path escaped.
func CustomerEmailCacheKey(customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", fmt.Errorf("sqlstore: customer id is required")
	}

	return customerEmailCacheKeyPrefix + "::" + url.PathEscape(customerID), nil
}

func (d *CachedCustomerDirectory) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if d == nil || d.base == nil || d.cache == nil {
		return "", fmt.Errorf("sqlstore: cached customer directory is not configured")
	}

	cacheKey, err := CustomerEmailCacheKey(customerID)
	if err != nil {
		return "", err
	}

	email, err := repositorycache.GetOrFetch(ctx, d.cache, cacheKey, func(ctx context.Context) (string, error) {
		return d.base.CustomerEmail(ctx, strings.TrimSpace(customerID))
	})
	if err != nil {
		return "", err
	}

	return email, nil
}

var _ core.CustomerDirectory = (*CachedCustomerDirectory)(nil)
