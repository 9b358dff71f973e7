// Package urlutil validates playlist source URLs and fetches them from
// http(s) or the local filesystem.
package urlutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/jmylchreest/tvrec/pkg/httpclient"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

// IsRemoteURL reports whether u is an http(s) URL.
func IsRemoteURL(u string) bool {
	s := GetScheme(u)
	return s == SchemeHTTP || s == SchemeHTTPS
}

// IsFileURL checks if a URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return GetScheme(u) == SchemeFile
}

// GetScheme returns the lower-cased scheme of u, or "" if u does not parse.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// FilePathFromURL extracts the file path from a file:// URL. Both
// file:///path and file://localhost/path are accepted.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return "", fmt.Errorf("remote file host not supported: %s", parsed.Host)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}
	return parsed.Path, nil
}

// ValidateURL checks that u is an http(s) URL or a file:// URL naming an
// existing file.
func ValidateURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case SchemeHTTP, SchemeHTTPS:
		if parsed.Host == "" {
			return fmt.Errorf("URL has no host: %s", u)
		}
		return nil
	case SchemeFile:
		path, err := FilePathFromURL(u)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return fmt.Errorf("cannot access file: %w", err)
		}
		return nil
	case "":
		return fmt.Errorf("URL must include a scheme (http://, https://, or file://)")
	default:
		return fmt.Errorf("unsupported URL scheme: %s (supported: http, https, file)", parsed.Scheme)
	}
}

// Fetcher retrieves playlist bodies from http(s) URLs through an
// httpclient.Client and from file:// URLs on disk.
type Fetcher struct {
	client *httpclient.Client
}

// NewFetcher creates a Fetcher using client for remote URLs.
func NewFetcher(client *httpclient.Client) *Fetcher {
	if client == nil {
		client = httpclient.New(httpclient.DefaultConfig())
	}
	return &Fetcher{client: client}
}

// GetOK fetches u. File URLs are presented as a 200 response whose body is
// the open file; remote URLs fail on any non-2xx status.
func (f *Fetcher) GetOK(ctx context.Context, u string) (*http.Response, error) {
	switch GetScheme(u) {
	case SchemeHTTP, SchemeHTTPS:
		return f.client.GetOK(ctx, u)
	case SchemeFile:
		body, size, err := openFile(u)
		if err != nil {
			return nil, err
		}
		return &http.Response{
			Status:        "200 OK",
			StatusCode:    http.StatusOK,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        make(http.Header),
			Body:          body,
			ContentLength: size,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (URL: %s)", GetScheme(u), u)
	}
}

func openFile(u string) (io.ReadCloser, int64, error) {
	path, err := FilePathFromURL(u)
	if err != nil {
		return nil, 0, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return file, info.Size(), nil
}
