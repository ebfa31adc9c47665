package spider

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"net/url"

	"github.com/mingtechpro/douyin-trends/internal/config"
)

// Title encoding methods. Hot-list titles are usually non-ASCII, and raw
// embedding in a path breaks navigation, so the title segment is encoded.
const (
	EncodeURLEncode = "url_encode"
	EncodeBase64    = "base64"
	EncodeHash      = "hash"
)

// EncodeTitle renders title as a URL-safe path segment using the given
// method. Unknown methods fall back to percent-encoding.
func EncodeTitle(title, method string) string {
	switch method {
	case EncodeBase64:
		return base64.RawURLEncoding.EncodeToString([]byte(title))
	case EncodeHash:
		sum := md5.Sum([]byte(title))
		return hex.EncodeToString(sum[:])
	default:
		return url.PathEscape(title)
	}
}

// BuildItemURL combines the hot-list base URL, an item id, and the encoded
// title into the item's navigable page URL. Missing components degrade to
// the base URL alone.
func BuildItemURL(baseURL, itemID, title string, cfg config.URLEncodingConfig) string {
	if baseURL == "" || itemID == "" || title == "" {
		return baseURL
	}
	if !cfg.Enabled {
		return baseURL + "/" + itemID + "/" + title
	}
	return baseURL + "/" + itemID + "/" + EncodeTitle(title, cfg.Method)
}
