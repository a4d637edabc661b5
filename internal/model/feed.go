package model

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Feed is one input GTFS archive
type Feed struct {
	ID        string `json:"id"`                   // Stable feed identity
	Path      string `json:"path"`                 // Location of the archive on disk
	SourceURL string `json:"source_url,omitempty"` // Download URL from the manifest, if known
	Size      int64  `json:"size"`                 // Byte size, -1 when unknown
}

// Sized reports whether the feed's byte size is known
func (f Feed) Sized() bool {
	return f.Size >= 0
}

// FeedIDFromURL derives the downloader's feed name: the first 8 hex chars of MD5(url)
func FeedIDFromURL(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:8]
}

// FeedIDFromPath uses the archive file name without extension
func FeedIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
