package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// IsRemoteURL reports whether s is an http(s) URL rather than a local path.
func IsRemoteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ExtractYouTubeID returns the video ID of a YouTube watch, embed or short URL.
func ExtractYouTubeID(youtubeURL string) (string, error) {
	u, err := url.Parse(youtubeURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	host := strings.ToLower(u.Host)
	switch {
	case strings.Contains(host, "youtu.be"):
		if id := strings.Trim(u.Path, "/"); id != "" {
			return id, nil
		}
	case strings.Contains(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			return v, nil
		}
		for _, prefix := range []string{"/embed/", "/v/", "/shorts/"} {
			if id := strings.TrimPrefix(u.Path, prefix); id != u.Path && id != "" {
				return id, nil
			}
		}
	}

	return "", fmt.Errorf("unable to extract video ID from URL: %s", youtubeURL)
}
