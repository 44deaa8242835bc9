package offgrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offgrid/internal/store"
)

func TestPinFetchesMissingPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fetcher.route(videoA, 200, "video/mp4", payload(64))

	require.NoError(t, env.router.Pin(context.Background(), videoA))
	ent, ok := env.cached(t, videoA)
	require.True(t, ok)
	assert.Len(t, ent.Body, 64)
	assert.True(t, env.pinned(t, videoA))
}

func TestPinUsesCachedPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.cache.Put(store.Entry{URL: videoA, Status: 200, Body: payload(8)}))
	env.fetcher.setDown(true)

	require.NoError(t, env.router.Pin(context.Background(), videoA))
	assert.True(t, env.pinned(t, videoA))
	assert.Zero(t, env.fetcher.callCount())
}

func TestPinFailsWithoutPayload(t *testing.T) {
	env := newTestEnv(t, nil)

	err := env.router.Pin(context.Background(), videoA)
	assert.ErrorContains(t, err, "unexpected status 404")
	assert.False(t, env.pinned(t, videoA))

	env.fetcher.setDown(true)
	assert.ErrorIs(t, env.router.Pin(context.Background(), videoA), errOffline)
	assert.False(t, env.pinned(t, videoA))
}

func TestUnpinKeepsPayload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.fetcher.route(videoA, 200, "video/mp4", payload(4))
	require.NoError(t, env.router.Pin(ctx, videoA))

	require.NoError(t, env.router.Unpin(ctx, videoA))
	assert.False(t, env.pinned(t, videoA))
	_, ok := env.cached(t, videoA)
	assert.True(t, ok)
}

func TestDeleteDropsPayloadAndPin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.fetcher.route(videoA, 200, "video/mp4", payload(4))
	require.NoError(t, env.router.Pin(ctx, videoA))

	require.NoError(t, env.router.Delete(ctx, videoA))
	assert.False(t, env.pinned(t, videoA))
	_, ok := env.cached(t, videoA)
	assert.False(t, ok)

	// Deleting an unknown address is not an error.
	require.NoError(t, env.router.Delete(ctx, testOrigin+"/nothing"))
}

func TestEntriesReportsPins(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	js := testOrigin + "/app.js"
	require.NoError(t, env.cache.Put(store.Entry{URL: js, Status: 200, Body: []byte("js")}))
	require.NoError(t, env.cache.Put(store.Entry{URL: videoA, Status: 200, Body: payload(10)}))
	require.NoError(t, env.records.Put(ctx, store.Pins, store.Record{Key: videoA, Pinned: true}))

	entries, err := env.router.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []EntryInfo{
		{URL: js, Status: 200, Size: 2},
		{URL: videoA, Status: 200, Size: 10, Pinned: true},
	}, entries)
}

func TestCommandRunsInBackground(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fetcher.route(videoA, 200, "video/mp4", payload(4))

	env.router.command(controlOp{name: "pin", run: env.router.Pin}, videoA)
	env.router.Wait()
	assert.True(t, env.pinned(t, videoA))

	// Failures are only logged.
	env.router.command(controlOp{name: "pin", run: env.router.Pin}, testOrigin+"/v/none.mp4")
	env.router.Wait()
	assert.False(t, env.pinned(t, testOrigin+"/v/none.mp4"))
}
