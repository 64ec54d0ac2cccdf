package project

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// NormalizeURI canonicalizes a file URI or a plain filesystem path to a
// "file://" URI with a clean path and no trailing slash.
func NormalizeURI(location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return ""
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain path (a one-letter scheme is a Windows drive)
		return PathToURI(location)
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return location
	}

	p := path.Clean(u.Path)
	if p == "." {
		p = "/"
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// PathToURI converts a filesystem path to a normalized file URI.
func PathToURI(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// URIToPath converts a file URI to a filesystem path. Non-URIs are returned
// cleaned.
func URIToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return filepath.Clean(uri)
	}
	return filepath.FromSlash(u.Path)
}

// hasPathPrefix reports whether uri equals root or lies below it on a
// segment boundary.
func hasPathPrefix(uri, root string) bool {
	if root == "" {
		return false
	}
	if uri == root {
		return true
	}
	if strings.HasSuffix(root, "/") {
		return strings.HasPrefix(uri, root)
	}
	return strings.HasPrefix(uri, root+"/")
}
