package odb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Options configures a transaction coordinator.
type Options struct {
	// CacheMaxObjects bounds the object cache. Zero selects the unbounded weak cache.
	CacheMaxObjects int `json:"cache_max_objects" toml:"cache_max_objects"`
	// CacheEvictPercent is the share of the bounded cache evicted in one batch when full.
	CacheEvictPercent int `json:"cache_evict_percent" toml:"cache_evict_percent"`
	// RestoreValues captures pre-images so that abort restores modified objects in place.
	// When false, abort hollows modified objects instead.
	RestoreValues bool `json:"restore_values" toml:"restore_values"`
	// RetainValues keeps committed objects loaded and readable outside a transaction.
	// When false, commit hollows the cache.
	RetainValues bool `json:"retain_values" toml:"retain_values"`
	// NonTransactionalRead allows reads with no bound transaction.
	NonTransactionalRead bool `json:"non_transactional_read" toml:"non_transactional_read"`
	// OIDBlockSize is the number of identifiers requested from storage per round trip.
	OIDBlockSize int `json:"oid_block_size" toml:"oid_block_size"`
	// FlushBatchBytes is the outbound batch size that triggers a push during flush.
	FlushBatchBytes int `json:"flush_batch_bytes" toml:"flush_batch_bytes"`
	// PrefetchLimit caps how many queued hollow objects are loaded along with a requested one.
	PrefetchLimit int `json:"prefetch_limit" toml:"prefetch_limit"`
	// RetryCount and RetryBaseDelay drive backoff on idempotent storage calls.
	RetryCount     int           `json:"retry_count" toml:"retry_count"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" toml:"retry_base_delay"`
}

const (
	defaultEvictPercent    = 10
	defaultOIDBlockSize    = 64
	defaultFlushBatchBytes = 1 << 20
	defaultPrefetchLimit   = 32
	defaultRetryCount      = 3
	defaultRetryBaseDelay  = 10 * time.Millisecond
)

// DefaultOptions returns options with an unbounded cache, restore and retain disabled.
func DefaultOptions() Options {
	return Options{
		CacheEvictPercent: defaultEvictPercent,
		OIDBlockSize:      defaultOIDBlockSize,
		FlushBatchBytes:   defaultFlushBatchBytes,
		PrefetchLimit:     defaultPrefetchLimit,
		RetryCount:        defaultRetryCount,
		RetryBaseDelay:    defaultRetryBaseDelay,
	}
}

// Validate checks the options for out of range values.
func (o Options) Validate() error {
	if o.CacheMaxObjects < 0 {
		return fmt.Errorf("cache_max_objects can't be negative, got %d", o.CacheMaxObjects)
	}
	if o.CacheEvictPercent < 1 || o.CacheEvictPercent > 100 {
		return fmt.Errorf("cache_evict_percent must be within 1..100, got %d", o.CacheEvictPercent)
	}
	if o.OIDBlockSize < 1 {
		return fmt.Errorf("oid_block_size must be positive, got %d", o.OIDBlockSize)
	}
	if o.FlushBatchBytes < 1 {
		return fmt.Errorf("flush_batch_bytes must be positive, got %d", o.FlushBatchBytes)
	}
	if o.PrefetchLimit < 0 || o.RetryCount < 0 || o.RetryBaseDelay < 0 {
		return fmt.Errorf("prefetch_limit, retry_count and retry_base_delay can't be negative")
	}
	return nil
}

// LoadOptions reads options from a TOML (.toml) or JSON file. Fields missing from the
// file keep their DefaultOptions value.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	ba, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read options file %s, details: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(ba), &opts); err != nil {
			return opts, fmt.Errorf("failed to decode options file %s, details: %w", path, err)
		}
	} else if err := json.Unmarshal(ba, &opts); err != nil {
		return opts, fmt.Errorf("failed to decode options file %s, details: %w", path, err)
	}
	return opts, opts.Validate()
}
