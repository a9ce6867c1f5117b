// Package redirect validates client redirect URIs.
package redirect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Parse parses raw and checks that it can be used as a redirect URI.
func Parse(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("the redirect URI is not a valid URI: %w", err)
	}
	if err := Validate(u); err != nil {
		return nil, err
	}
	return Normalize(u), nil
}

// Validate checks that u is absolute and has no fragment.
func Validate(u *url.URL) error {
	if !u.IsAbs() || u.Host == "" {
		return errors.New("the redirect URI must be absolute")
	}
	if u.Fragment != "" {
		return errors.New("the redirect URI must not contain a fragment")
	}
	return nil
}

// Normalize returns a copy of u with dot segments removed from the path.
func Normalize(u *url.URL) *url.URL {
	out := *u
	if out.Path != "" {
		out.Path = removeDotSegments(out.Path)
		out.RawPath = ""
	}
	return &out
}

// removeDotSegments implements RFC 3986 section 5.2.4.
func removeDotSegments(path string) string {
	var out []string
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		switch seg {
		case ".":
			if i == len(segments)-1 {
				out = append(out, "")
			}
		case "..":
			if len(out) > 1 {
				out = out[:len(out)-1]
			}
			if i == len(segments)-1 {
				out = append(out, "")
			}
		default:
			out = append(out, seg)
		}
	}
	result := strings.Join(out, "/")
	if strings.HasPrefix(path, "/") && !strings.HasPrefix(result, "/") {
		result = "/" + result
	}
	return result
}

// Supersedes returns an error unless candidate is base or lies beneath it.
//
// Scheme, host and port must match exactly. An absent port never matches an explicit one, even the scheme
// default. Every segment of base's path must appear in the same position of candidate's path.
func Supersedes(base, candidate *url.URL) error {
	if base.Scheme != candidate.Scheme {
		return fmt.Errorf("the redirect URI scheme %q does not match the registered scheme %q", candidate.Scheme, base.Scheme)
	}
	if base.Hostname() != candidate.Hostname() {
		return fmt.Errorf("the redirect URI host %q does not match the registered host %q", candidate.Hostname(), base.Hostname())
	}
	if base.Port() != candidate.Port() {
		return fmt.Errorf("the redirect URI port %q does not match the registered port %q", candidate.Port(), base.Port())
	}

	baseSegments := pathSegments(base.Path)
	if len(baseSegments) == 0 {
		return nil
	}

	candidateSegments := pathSegments(candidate.Path)
	if len(candidateSegments) == 0 {
		return errors.New("the redirect URI has no path but the registered URI does")
	}
	if len(baseSegments) > len(candidateSegments) {
		return errors.New("the redirect URI path is shorter than the registered path")
	}
	for i, seg := range baseSegments {
		if candidateSegments[i] != seg {
			return fmt.Errorf("the redirect URI path segment %q does not match the registered segment %q", candidateSegments[i], seg)
		}
	}

	return nil
}

// pathSegments splits a path on "/", dropping trailing empty segments so "/" has none and "/cb/" equals "/cb".
func pathSegments(path string) []string {
	segments := strings.Split(path, "/")
	for len(segments) > 0 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	return segments
}
