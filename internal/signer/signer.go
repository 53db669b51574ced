// Package signer turns storage URIs into short-lived pre-signed URLs.
// One signer per storage scheme; a registry dispatches on the scheme of
// each file's URI so a single response can mix storage systems.
package signer

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// URLSigner produces a time-limited GET URL for one storage object.
type URLSigner interface {
	SignGetURL(ctx context.Context, path string, expiry time.Duration) (string, error)
}

// Registry maps storage URI schemes to signers.
type Registry struct {
	signers  map[string]URLSigner
	fallback URLSigner
}

// NewRegistry builds an empty registry whose fallback passes URIs through
// unsigned. Storage that needs no signing (public HTTP, local demo paths)
// works out of the box; register real signers for everything else.
func NewRegistry() *Registry {
	return &Registry{
		signers:  map[string]URLSigner{},
		fallback: PassthroughSigner{},
	}
}

// Register installs a signer for one or more URI schemes.
func (r *Registry) Register(s URLSigner, schemes ...string) {
	for _, scheme := range schemes {
		r.signers[scheme] = s
	}
}

// SignGetURL dispatches to the signer registered for the path's scheme.
func (r *Registry) SignGetURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse storage path %q: %w", path, err)
	}
	if s, ok := r.signers[u.Scheme]; ok {
		return s.SignGetURL(ctx, path, expiry)
	}
	return r.fallback.SignGetURL(ctx, path, expiry)
}

// PassthroughSigner returns paths unchanged.
type PassthroughSigner struct{}

// SignGetURL implements URLSigner.
func (PassthroughSigner) SignGetURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return path, nil
}
