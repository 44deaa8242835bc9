package offgrid

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Descriptor is the request metadata the classifier looks at.
type Descriptor struct {
	Method   string
	Dest     Destination
	Navigate bool
	URL      *url.URL
	Accept   string
}

func describe(r *Request) Descriptor {
	return Descriptor{
		Method:   r.Method,
		Dest:     ParseDestination(r.Header.Get("Sec-Fetch-Dest")),
		Navigate: strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate"),
		URL:      r.URL,
		Accept:   r.Header.Get("Accept"),
	}
}

// Classifier maps requests to caching categories. It holds no mutable state.
type Classifier struct {
	origin     *url.URL
	apiSegment string
	mediaExt   map[string]struct{}
}

func NewClassifier(cfg *Config) *Classifier {
	ext := make(map[string]struct{}, len(cfg.Policy.MediaExtensions))
	for _, e := range cfg.Policy.MediaExtensions {
		ext[e] = struct{}{}
	}
	return &Classifier{origin: cfg.origin, apiSegment: cfg.Policy.APISegment, mediaExt: ext}
}

// Classify returns the first matching category. Only GET is classified;
// everything else is Passthrough.
func (c *Classifier) Classify(d Descriptor) Category {
	if d.Method != http.MethodGet || d.URL == nil {
		return Passthrough
	}
	p := d.URL.Path

	if d.Dest == DestDocument || d.Navigate {
		return Navigation
	}
	if d.Dest == DestVideo || c.isMediaPath(p) {
		return Media
	}
	if acceptsJSON(d.Accept) || strings.Contains(p, c.apiSegment) || strings.HasSuffix(strings.ToLower(p), ".json") {
		return StructuredData
	}
	switch d.Dest {
	case DestScript, DestStyle, DestImage, DestFont:
		return StaticAsset
	}
	if c.origin != nil && sameOrigin(c.origin, d.URL) {
		return StaticAsset
	}
	return Passthrough
}

func (c *Classifier) isMediaPath(p string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if ext == "" {
		return false
	}
	_, ok := c.mediaExt[ext]
	return ok
}

func acceptsJSON(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mt := strings.ToLower(strings.TrimSpace(part))
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		if mt == "application/json" || strings.HasSuffix(mt, "+json") {
			return true
		}
	}
	return false
}
