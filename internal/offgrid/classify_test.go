package offgrid

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor(t *testing.T, method, raw string, dest Destination, navigate bool, accept string) Descriptor {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return Descriptor{Method: method, Dest: dest, Navigate: navigate, URL: u, Accept: accept}
}

func TestClassify(t *testing.T) {
	c := NewClassifier(testConfig(t, nil))

	cases := []struct {
		name     string
		method   string
		url      string
		dest     Destination
		navigate bool
		accept   string
		want     Category
	}{
		{name: "document", url: testOrigin + "/about", dest: DestDocument, want: Navigation},
		{name: "navigate mode", url: testOrigin + "/about", navigate: true, want: Navigation},
		{name: "navigate wins over media path", url: testOrigin + "/v/a.mp4", dest: DestDocument, want: Navigation},
		{name: "video destination", url: "https://cdn.test/stream", dest: DestVideo, want: Media},
		{name: "media extension", url: testOrigin + "/v/a.MP4", want: Media},
		{name: "video with json accept", url: testOrigin + "/v/clip", dest: DestVideo, accept: "application/json", want: Media},
		{name: "json accept", url: "https://other.test/feed", accept: "application/json, text/plain", want: StructuredData},
		{name: "json suffix type", url: "https://other.test/feed", accept: "application/ld+json;q=0.9", want: StructuredData},
		{name: "api segment", url: testOrigin + "/api/items", want: StructuredData},
		{name: "json extension", url: testOrigin + "/data/cfg.json", dest: DestScript, want: StructuredData},
		{name: "script", url: "https://cdn.test/app.js", dest: DestScript, want: StaticAsset},
		{name: "style", url: "https://cdn.test/app.css", dest: DestStyle, want: StaticAsset},
		{name: "image", url: "https://cdn.test/logo.png", dest: DestImage, want: StaticAsset},
		{name: "font", url: "https://cdn.test/f.woff2", dest: DestFont, want: StaticAsset},
		{name: "same origin other", url: testOrigin + "/robots.txt", want: StaticAsset},
		{name: "cross origin other", url: "https://tracker.test/p", want: Passthrough},
		{name: "post", method: http.MethodPost, url: testOrigin + "/api/items", accept: "application/json", want: Passthrough},
		{name: "head", method: http.MethodHead, url: testOrigin + "/index.html", dest: DestDocument, want: Passthrough},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			method := tc.method
			if method == "" {
				method = http.MethodGet
			}
			got := c.Classify(descriptor(t, method, tc.url, tc.dest, tc.navigate, tc.accept))
			assert.Equal(t, tc.want, got, "got %s", got)
		})
	}
}

func TestClassifyHonorsConfiguredPolicy(t *testing.T) {
	cfg := testConfig(t, func(c *Config) {
		c.Policy.APISegment = "/rest/"
		c.Policy.MediaExtensions = []string{".MKV"}
	})
	c := NewClassifier(cfg)

	assert.Equal(t, Media, c.Classify(descriptor(t, http.MethodGet, testOrigin+"/v/a.mkv", DestOther, false, "")))
	assert.Equal(t, StaticAsset, c.Classify(descriptor(t, http.MethodGet, testOrigin+"/v/a.mp4", DestOther, false, "")))
	assert.Equal(t, StructuredData, c.Classify(descriptor(t, http.MethodGet, testOrigin+"/rest/users", DestOther, false, "")))
	assert.Equal(t, StaticAsset, c.Classify(descriptor(t, http.MethodGet, testOrigin+"/api/users", DestOther, false, "")))
}

func TestDescribeReadsFetchMetadata(t *testing.T) {
	req := get(t, testOrigin+"/x", "Sec-Fetch-Dest", "video", "Sec-Fetch-Mode", "Navigate", "Accept", "*/*")
	d := describe(req)
	assert.Equal(t, DestVideo, d.Dest)
	assert.True(t, d.Navigate)
	assert.Equal(t, "*/*", d.Accept)

	assert.Equal(t, DestOther, ParseDestination("audioworklet"))
	assert.Equal(t, DestOther, ParseDestination(""))
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "navigation", Navigation.String())
	assert.Equal(t, "media", Media.String())
	assert.Equal(t, "static", StaticAsset.String())
	assert.Equal(t, "data", StructuredData.String())
	assert.Equal(t, "passthrough", Passthrough.String())
}
