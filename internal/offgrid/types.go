package offgrid

import (
	"net/http"
	"net/url"

	"offgrid/internal/store"
)

// Request is an inbound request after it has been resolved to an absolute address.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Response is what a strategy answers with: a network result, a cached entry or
// a synthesized fallback.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	// Source says where the response came from; it ends up in X-Offgrid.
	Source string
}

const (
	sourceNetwork     = "network"
	sourceCache       = "cache"
	sourceFallback    = "fallback"
	sourceOffline     = "offline"
	sourceRecord      = "record"
	sourceUnavailable = "unavailable"
)

// Destination is the closed set of request destinations the classifier knows.
type Destination int

const (
	DestOther Destination = iota
	DestDocument
	DestScript
	DestStyle
	DestImage
	DestFont
	DestVideo
)

var destinationNames = map[string]Destination{
	"document": DestDocument,
	"script":   DestScript,
	"style":    DestStyle,
	"image":    DestImage,
	"font":     DestFont,
	"video":    DestVideo,
}

// ParseDestination maps a Sec-Fetch-Dest value; anything unknown is DestOther.
func ParseDestination(s string) Destination {
	if d, ok := destinationNames[s]; ok {
		return d
	}
	return DestOther
}

// Category is the caching strategy a request is routed to.
type Category int

const (
	Passthrough Category = iota
	Navigation
	Media
	StaticAsset
	StructuredData
)

func (c Category) String() string {
	switch c {
	case Navigation:
		return "navigation"
	case Media:
		return "media"
	case StaticAsset:
		return "static"
	case StructuredData:
		return "data"
	default:
		return "passthrough"
	}
}

func unavailable() *Response {
	return &Response{Status: http.StatusServiceUnavailable, Header: make(http.Header), Source: sourceUnavailable}
}

func fromEntry(ent store.Entry, source string) *Response {
	return &Response{Status: ent.Status, Header: cloneHeader(ent.Header), Body: ent.Body, Source: source}
}

func (r *Response) entry(address string) store.Entry {
	return store.Entry{URL: address, Status: r.Status, Header: cloneHeader(r.Header), Body: r.Body}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return make(http.Header)
	}
	return h.Clone()
}
