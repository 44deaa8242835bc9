package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offgrid/internal/offgrid"
)

func withServer(t *testing.T, h http.Handler) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	prevServer, prevControl := serverURL, controlPrefix
	serverURL, controlPrefix = srv.URL, "/__offgrid"
	t.Cleanup(func() { serverURL, controlPrefix = prevServer, prevControl })
}

func TestKeysRendersEntries(t *testing.T) {
	withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/__offgrid/keys", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]offgrid.EntryInfo{
			{URL: "https://app.test/", Status: 200, Size: 12},
			{URL: "https://app.test/v/a.mp4", Status: 200, Size: 1000, Pinned: true},
		})
	}))

	var out bytes.Buffer
	keysCmd.SetOut(&out)
	require.NoError(t, keysCmd.RunE(keysCmd, nil))

	s := out.String()
	assert.Contains(t, s, "https://app.test/v/a.mp4")
	assert.Contains(t, s, "1000")
	assert.Contains(t, s, "yes")
}

func TestCommandPostsURL(t *testing.T) {
	var gotPath, gotURL string
	withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotURL = r.URL.Path, r.URL.Query().Get("url")
		w.WriteHeader(http.StatusAccepted)
	}))

	var out bytes.Buffer
	pinCmd.SetOut(&out)
	require.NoError(t, pinCmd.RunE(pinCmd, []string{"https://app.test/v/a.mp4?x=1"}))
	assert.Equal(t, "/__offgrid/pin", gotPath)
	assert.Equal(t, "https://app.test/v/a.mp4?x=1", gotURL)
}

func TestCommandReportsRejection(t *testing.T) {
	withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "empty address", http.StatusBadRequest)
	}))

	err := deleteCmd.RunE(deleteCmd, []string{""})
	assert.ErrorContains(t, err, "unexpected status 400")
}
