package narrative

import (
	"context"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/dpup/ride.ersn.net/server/internal/cache"
)

// DefaultCacheTTL is how long a generated narrative is reused
const DefaultCacheTTL = 24 * time.Hour

// Cached reuses narratives for searches that differ only in spelling
// details such as case, spacing or trailing punctuation
type Cached struct {
	next  Narrator
	cache *cache.Cache
	ttl   time.Duration
}

// NewCached wraps next with a content-keyed cache
func NewCached(next Narrator, c *cache.Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{next: next, cache: c, ttl: ttl}
}

// Narrate implements Narrator. Failures are never cached.
func (c *Cached) Narrate(ctx context.Context, origin, destination string, lang language.Tag) (string, error) {
	key := ContentKey(origin, destination, lang)

	var text string
	if found, err := c.cache.Get(key, &text); err == nil && found {
		return text, nil
	}

	text, err := c.next.Narrate(ctx, origin, destination, lang)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(key, text, c.ttl, "narrative"); err != nil {
		return "", fmt.Errorf("failed to cache narrative: %w", err)
	}
	return text, nil
}

var (
	spaceRegex = regexp.MustCompile(`\s+`)
	punctRegex = regexp.MustCompile(`[.!?:;,]+$`)
)

// NormalizeLocation cleans free-text location input for consistent keys
func NormalizeLocation(s string) string {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = spaceRegex.ReplaceAllString(normalized, " ")
	return punctRegex.ReplaceAllString(normalized, "")
}

// ContentKey is the cache key for a narrative request
func ContentKey(origin, destination string, lang language.Tag) string {
	content := fmt.Sprintf("%s|%s|%s", NormalizeLocation(origin), NormalizeLocation(destination), lang)
	return fmt.Sprintf("narrative:%x", sha256.Sum256([]byte(content)))
}
