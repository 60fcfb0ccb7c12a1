package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"hlsrelay/core/manifest"
)

const SchemeMinio = "minio"

// SchemeResolver dispatches on the locator scheme and falls back to a default.
type SchemeResolver struct {
	byScheme map[string]manifest.Resolver
	fallback manifest.Resolver
}

func NewSchemeResolver(fallback manifest.Resolver) *SchemeResolver {
	return &SchemeResolver{byScheme: make(map[string]manifest.Resolver), fallback: fallback}
}

// Register 为指定 scheme 注册解析器，返回自身便于链式调用
func (s *SchemeResolver) Register(scheme string, r manifest.Resolver) *SchemeResolver {
	s.byScheme[strings.ToLower(scheme)] = r
	return s
}

func (s *SchemeResolver) ResolveManifestURL(ctx context.Context, locator string) (string, error) {
	if u, err := url.Parse(locator); err == nil {
		if r, ok := s.byScheme[strings.ToLower(u.Scheme)]; ok {
			return r.ResolveManifestURL(ctx, locator)
		}
	}
	if s.fallback == nil {
		return "", fmt.Errorf("no resolver for locator %q", locator)
	}
	return s.fallback.ResolveManifestURL(ctx, locator)
}
