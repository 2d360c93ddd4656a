// Package delivery builds consumer-facing URLs and cache policy for
// finalized objects. It is a pure formatting layer: nothing here touches the
// network.
package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	signingKeyIterations = 4096
	signingKeyLength     = 32
	signingSalt          = "wavecrate-streaming-v1"
)

// Generator composes delivery URLs over configured CDN and streaming bases.
type Generator struct {
	baseURL       string
	streamingBase string
	signingKey    []byte
	cacheTTLs     map[string]time.Duration
	clock         func() time.Time
}

// Config drives URL generation. SigningSecret may be empty, in which case
// streaming URLs carry no token.
type Config struct {
	BaseURL       string
	StreamingBase string
	SigningSecret string
	CacheTTLs     map[string]time.Duration
	Clock         func() time.Time
}

// NewGenerator builds a Generator, deriving the streaming token key from the
// configured secret once at construction.
func NewGenerator(cfg Config) *Generator {
	g := &Generator{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		streamingBase: strings.TrimRight(cfg.StreamingBase, "/"),
		cacheTTLs:     cfg.CacheTTLs,
		clock:         cfg.Clock,
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	if secret := strings.TrimSpace(cfg.SigningSecret); secret != "" {
		g.signingKey = pbkdf2.Key([]byte(secret), []byte(signingSalt), signingKeyIterations, signingKeyLength, sha256.New)
	}
	return g
}

// AssetOptions tune one asset URL. Zero values are omitted from the URL.
type AssetOptions struct {
	ExpiresIn time.Duration
	Quality   string
	Format    string
}

// BuildAssetURL returns the CDN URL for a finalized object key.
func (g *Generator) BuildAssetURL(key string, opts AssetOptions) string {
	raw := g.baseURL + "/" + strings.TrimLeft(key, "/")
	params := url.Values{}
	if opts.ExpiresIn > 0 {
		params.Set("expires", fmt.Sprintf("%d", g.clock().Add(opts.ExpiresIn).Unix()))
	}
	if opts.Quality != "" {
		params.Set("quality", opts.Quality)
	}
	if opts.Format != "" {
		params.Set("format", opts.Format)
	}
	if len(params) == 0 {
		return raw
	}
	return raw + "?" + params.Encode()
}

// StreamingOptions tune one playlist URL.
type StreamingOptions struct {
	Quality   string
	ExpiresIn time.Duration
}

// BuildStreamingPlaylistURL returns the HLS playlist URL for an entity. A
// quality selects that rendition's playlist, otherwise the master playlist is
// used. When a signing secret is configured the URL carries an expiry plus an
// HMAC token binding the path and expiry, the way CDNs gate playlist access.
func (g *Generator) BuildStreamingPlaylistURL(entityID, ownerID string, opts StreamingOptions) string {
	path := fmt.Sprintf("/streams/%s/%s/master.m3u8", url.PathEscape(ownerID), url.PathEscape(entityID))
	if opts.Quality != "" {
		path = fmt.Sprintf("/streams/%s/%s/%s/index.m3u8", url.PathEscape(ownerID), url.PathEscape(entityID), url.PathEscape(opts.Quality))
	}
	raw := g.streamingBase + path
	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	expires := g.clock().Add(expiresIn).Unix()
	params := url.Values{}
	params.Set("expires", fmt.Sprintf("%d", expires))
	if g.signingKey != nil {
		params.Set("token", g.signPath(path, expires))
	}
	return raw + "?" + params.Encode()
}

func (g *Generator) signPath(path string, expires int64) string {
	mac := hmac.New(sha256.New, g.signingKey)
	fmt.Fprintf(mac, "%s\n%d", path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyStreamingToken reports whether a token matches the path and expiry it
// claims to cover and has not expired.
func (g *Generator) VerifyStreamingToken(path, token string, expires int64) bool {
	if g.signingKey == nil || expires < g.clock().Unix() {
		return false
	}
	expected := g.signPath(path, expires)
	return hmac.Equal([]byte(expected), []byte(token))
}
