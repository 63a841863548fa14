package searchtracker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharenet/sharenet/internal/searchtracker"
	"github.com/sharenet/sharenet/internal/wire"
)

func TestLeafIsImmediatelyReady(t *testing.T) {
	tr := searchtracker.New(time.Minute, 16)
	assert.True(t, tr.IsReady("search-1"))
}

func TestReadyOnceAllForwardedHaveReplied(t *testing.T) {
	tr := searchtracker.New(time.Minute, 16)
	tr.NoteForward("s1", "10.0.0.2")
	tr.NoteForward("s1", "10.0.0.3")
	assert.False(t, tr.IsReady("s1"))

	tr.NoteReply("s1", "10.0.0.2", nil)
	assert.False(t, tr.IsReady("s1"))

	tr.NoteReply("s1", "10.0.0.3", nil)
	assert.True(t, tr.IsReady("s1"))
}

func TestAwaitReturnsOnSignal(t *testing.T) {
	tr := searchtracker.New(time.Minute, 16)
	tr.NoteForward("s1", "10.0.0.2")

	done := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- tr.Await(ctx, "s1", 10*time.Millisecond)
	}()

	time.Sleep(20 * time.Millisecond)
	tr.NoteReply("s1", "10.0.0.2", nil)

	select {
	case ready := <-done:
		assert.True(t, ready)
	case <-time.After(time.Second):
		t.Fatal("Await did not return after the search became ready")
	}
}

func TestAwaitTimesOutViaTTLEviction(t *testing.T) {
	tr := searchtracker.New(30*time.Millisecond, 16)
	tr.NoteForward("s1", "10.0.0.2") // never replies

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ready := tr.Await(ctx, "s1", 5*time.Millisecond)
	assert.True(t, ready, "TTL eviction should mark the search ready even though not every neighbor replied")
}

func TestFinalizeMergePrefersLowerDepthThenLocal(t *testing.T) {
	tr := searchtracker.New(time.Minute, 16)
	tr.NoteForward("s1", "10.0.0.2")
	tr.NoteForward("s1", "10.0.0.3")
	tr.NoteReply("s1", "10.0.0.2", []wire.FileHit{{Name: "movie.mp4", Size: 10, Source: "10.0.0.2", Depth: 2}})
	tr.NoteReply("s1", "10.0.0.3", []wire.FileHit{{Name: "movie.mp4", Size: 10, Source: "10.0.0.3", Depth: 0}})

	merged := tr.Finalize("s1", nil)
	require.Len(t, merged, 1)
	assert.Equal(t, 1, merged[0].Depth, "10.0.0.3's hit had depth 0, becomes 1 after the hop and wins over depth 3")
	assert.Equal(t, "10.0.0.3", merged[0].Source)
}

func TestFinalizeLocalHitsOverrideDownstream(t *testing.T) {
	tr := searchtracker.New(time.Minute, 16)
	tr.NoteReply("s1", "10.0.0.2", []wire.FileHit{{Name: "movie.mp4", Size: 10, Source: "10.0.0.2", Depth: 0}})

	local := []wire.FileHit{{Name: "movie.mp4", Size: 10, Source: "self", Depth: 0}}
	merged := tr.Finalize("s1", local)
	require.Len(t, merged, 1)
	assert.Equal(t, "self", merged[0].Source)
}

func TestFinalizeUpdatesFileTrackerForBestSource(t *testing.T) {
	tr := searchtracker.New(time.Minute, 16)
	local := []wire.FileHit{{Name: "movie.mp4", Size: 10, Source: "self", Depth: 0}}
	tr.Finalize("s1", local)

	hit, ok := tr.BestSource("movie.mp4")
	require.True(t, ok)
	assert.Equal(t, "self", hit.Source)
}

func TestBestSourceUnknownFile(t *testing.T) {
	tr := searchtracker.New(time.Minute, 16)
	_, ok := tr.BestSource("nope.bin")
	assert.False(t, ok)
}
