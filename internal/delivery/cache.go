package delivery

import (
	"fmt"
	"time"
)

// cachePolicy is one row of the asset-kind cache table.
type cachePolicy struct {
	maxAge      time.Duration
	contentType string
}

// cachePolicies maps asset kinds to their cache behaviour. Adding a kind is a
// new row here, not a new code path.
var cachePolicies = map[string]cachePolicy{
	"audio":              {maxAge: 30 * 24 * time.Hour},
	"image":              {maxAge: 30 * 24 * time.Hour},
	"profile-image":      {maxAge: 7 * 24 * time.Hour},
	"artwork":            {maxAge: 30 * 24 * time.Hour},
	"static":             {maxAge: 365 * 24 * time.Hour},
	"streaming-playlist": {maxAge: 30 * time.Second, contentType: "application/vnd.apple.mpegurl"},
	"streaming-segment":  {maxAge: 24 * time.Hour, contentType: "video/mp2t"},
}

// defaultCacheTTL applies to asset kinds without a table row.
const defaultCacheTTL = 5 * time.Minute

// CacheHeadersFor returns the response headers the CDN and browsers should
// honor for an asset kind. Long-lived kinds get max-age plus an absolute
// Expires; playlist kinds additionally pin their MIME type.
func (g *Generator) CacheHeadersFor(assetKind string) map[string]string {
	policy, ok := cachePolicies[assetKind]
	if !ok {
		policy = cachePolicy{maxAge: defaultCacheTTL}
	}
	if override, ok := g.cacheTTLs[assetKind]; ok && override > 0 {
		policy.maxAge = override
	}
	headers := map[string]string{
		"Cache-Control": fmt.Sprintf("public, max-age=%d", int64(policy.maxAge.Seconds())),
		"Expires":       g.clock().Add(policy.maxAge).UTC().Format(time.RFC1123),
	}
	if policy.contentType != "" {
		headers["Content-Type"] = policy.contentType
	}
	return headers
}
