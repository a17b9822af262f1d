package server

import (
	"net/http"
	"slices"
)

// headerPolicy applies the CORS and cache headers every proxy response carries.
type headerPolicy struct {
	origins []string
	noStore bool
}

func (p headerPolicy) apply(w http.ResponseWriter, r *http.Request) {
	h := w.Header()

	h.Set("Access-Control-Allow-Origin", p.allowOrigin(r.Header.Get("Origin")))
	if len(p.origins) > 0 {
		h.Add("Vary", "Origin")
	}
	h.Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")

	if p.noStore {
		// Browser, proxies and CDN edges all have to bypass their caches.
		h.Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		h.Set("CDN-Cache-Control", "no-store")
		h.Set("Vercel-CDN-Cache-Control", "no-store")
	}
}

// allowOrigin returns the Access-Control-Allow-Origin value for a request origin.
func (p headerPolicy) allowOrigin(origin string) string {
	if len(p.origins) == 0 {
		return "*"
	}
	if p.allowed(origin) {
		return origin
	}
	return p.origins[0]
}

// allowed reports whether origin may use the API. An empty list allows all.
func (p headerPolicy) allowed(origin string) bool {
	if len(p.origins) == 0 {
		return true
	}
	return slices.Contains(p.origins, origin)
}
