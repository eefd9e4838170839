package ports

import "time"

// CacheInterface is a keyed TTL store. It backs the purge time-lock, the
// cached inventory session token and failure-log suppression windows, so
// it is injected rather than reached for globally.
type CacheInterface interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
	Delete(key string)
}
