package model

import "time"

// CachePolicy is the singleton cache configuration row.
type CachePolicy struct {
	MaxCacheSizeMB    int64      `json:"max_cache_size_mb"`
	CacheDurationDays int        `json:"cache_duration_days"`
	AutoCleanup       bool       `json:"auto_cleanup"`
	LastCleanupAt     *time.Time `json:"last_cleanup_at"`
}

// DefaultCachePolicy returns the policy applied on first run.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		MaxCacheSizeMB:    100,
		CacheDurationDays: 30,
		AutoCleanup:       true,
	}
}
