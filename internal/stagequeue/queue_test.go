package stagequeue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
)

func TestPopOrder(t *testing.T) {
	q := New("test")
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		q.Push(key, &media.Item{Key: key})
	}

	for i := 0; i < 3; i++ {
		key, item := q.Pop(false, 0)
		require.NotNil(t, item)
		assert.Equal(t, fmt.Sprintf("k%d", i), key)
	}

	key, item := q.Pop(false, 0)
	assert.Empty(t, key)
	assert.Nil(t, item)
}

func TestPushUpsertKeepsPosition(t *testing.T) {
	q := New("test")
	q.Push("a", &media.Item{Key: "a", Name: "first"})
	q.Push("b", &media.Item{Key: "b"})
	q.Push("a", &media.Item{Key: "a", Name: "second"})

	require.Equal(t, 2, q.Len())

	key, item := q.Pop(false, 0)
	require.Equal(t, "a", key)
	assert.Equal(t, "second", item.Name)
}

func TestBlockingPopWaitsForPush(t *testing.T) {
	q := New("test")

	done := make(chan string, 1)
	go func() {
		key, _ := q.Pop(true, 0)
		done <- key
	}()

	select {
	case key := <-done:
		t.Fatalf("pop returned %q before any push", key)
	case <-time.After(50 * time.Millisecond):
	}

	q.Push("k1", &media.Item{Key: "k1"})

	select {
	case key := <-done:
		assert.Equal(t, "k1", key)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after push")
	}
}

func TestBlockingPopTimeout(t *testing.T) {
	q := New("test")

	const timeout = 100 * time.Millisecond

	start := time.Now()
	key, item := q.Pop(true, timeout)
	elapsed := time.Since(start)

	assert.Empty(t, key)
	assert.Nil(t, item)
	assert.GreaterOrEqual(t, elapsed, timeout, "pop returned before the timeout elapsed")
	assert.Less(t, elapsed, timeout+500*time.Millisecond, "pop overshot the timeout")
}

func TestBroadcastWakesAllWaiters(t *testing.T) {
	q := New("test")

	const waiters = 4

	var wg sync.WaitGroup
	results := make(chan string, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, _ := q.Pop(true, 300*time.Millisecond)
			results <- key
		}()
	}

	// Give the waiters time to block, then push a burst. Every waiter must
	// make progress: one per record, the rest via timeout after re-checking.
	time.Sleep(50 * time.Millisecond)
	q.Push("k1", &media.Item{Key: "k1"})
	q.Push("k2", &media.Item{Key: "k2"})
	wg.Wait()
	close(results)

	got := map[string]int{}
	for key := range results {
		got[key]++
	}
	assert.Equal(t, 1, got["k1"])
	assert.Equal(t, 1, got["k2"])
}

func TestConcurrentPopsNeverShareKeys(t *testing.T) {
	q := New("test")

	const items = 200
	for i := 0; i < items; i++ {
		key := fmt.Sprintf("k%03d", i)
		q.Push(key, &media.Item{Key: key})
	}

	var wg sync.WaitGroup
	seen := make(chan string, items)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				key, item := q.Pop(false, 0)
				if item == nil {
					return
				}
				seen <- key
			}
		}()
	}
	wg.Wait()
	close(seen)

	counts := map[string]int{}
	for key := range seen {
		counts[key]++
	}
	require.Len(t, counts, items)
	for key, n := range counts {
		assert.Equalf(t, 1, n, "key %s popped %d times", key, n)
	}
}

func TestRequeueFidelity(t *testing.T) {
	q := New("test")

	original := &media.Item{
		Key:            "k1",
		Service:        "qobuz",
		Type:           "track",
		ID:             "123",
		URL:            "https://play.qobuz.com/track/123",
		ParentCategory: "audio",
		PlaylistName:   "road trip",
		PlaylistNumber: 7,
	}
	snapshot := *original

	q.Requeue("k1", original)

	key, got := q.Pop(true, time.Second)
	require.Equal(t, "k1", key)
	assert.Equal(t, snapshot, *got, "requeued record must come back unchanged")
}

func TestClaimMutualExclusion(t *testing.T) {
	q := New("download")

	const items = 50
	for i := 0; i < items; i++ {
		key := fmt.Sprintf("k%03d", i)
		q.Push(key, &media.Item{Key: key, Status: media.StatusWaiting, Available: true})
	}

	var wg sync.WaitGroup
	claims := make(chan string, items*2)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				key, item := q.Claim(false, 0)
				if item == nil {
					return
				}
				claims <- key
			}
		}()
	}
	wg.Wait()
	close(claims)

	counts := map[string]int{}
	for key := range claims {
		counts[key]++
	}
	require.Len(t, counts, items, "every item must be claimed exactly once per available cycle")
	for key, n := range counts {
		assert.Equalf(t, 1, n, "key %s claimed %d times", key, n)
	}
}

func TestClaimSkipsUnavailable(t *testing.T) {
	q := New("download")
	q.Push("busy", &media.Item{Key: "busy", Status: media.StatusWaiting, Available: false})
	q.Push("free", &media.Item{Key: "free", Status: media.StatusWaiting, Available: true})

	key, item := q.Claim(false, 0)
	require.NotNil(t, item)
	assert.Equal(t, "free", key)

	// Both records are now claimed; a second call must not block.
	key, item = q.Claim(true, time.Hour)
	assert.Empty(t, key)
	assert.Nil(t, item)
}

func TestClaimSkipsFinishedHead(t *testing.T) {
	q := New("download")
	q.Push("done", &media.Item{Key: "done", Status: media.StatusDownloaded, Available: true})
	q.Push("next", &media.Item{Key: "next", Status: media.StatusWaiting, Available: true})

	// A finished record at the head of the order must not shadow the
	// runnable record behind it.
	key, item := q.Claim(false, 0)
	require.NotNil(t, item)
	assert.Equal(t, "next", key)
	assert.Equal(t, media.StatusWaiting, item.Status)

	key, item = q.Claim(false, 0)
	assert.Empty(t, key)
	assert.Nil(t, item)
}

func TestReleaseMakesClaimableAgain(t *testing.T) {
	q := New("download")
	q.Push("k1", &media.Item{Key: "k1", Status: media.StatusWaiting, Available: true})

	key, item := q.Claim(false, 0)
	require.Equal(t, "k1", key)
	require.NotNil(t, item)

	q.Release("k1")

	key, item = q.Claim(false, 0)
	assert.Equal(t, "k1", key)
	assert.NotNil(t, item)
}

func TestClaimReturnsSnapshot(t *testing.T) {
	q := New("download")
	q.Push("k1", &media.Item{Key: "k1", Available: true, Status: media.StatusWaiting})

	_, claimed := q.Claim(false, 0)
	require.NotNil(t, claimed)

	q.SetStatus("k1", media.StatusCancelled)
	assert.Equal(t, media.StatusWaiting, claimed.Status, "claim snapshot must not alias the queued record")

	status, ok := q.Status("k1")
	require.True(t, ok)
	assert.Equal(t, media.StatusCancelled, status)
}

func TestResetRetryable(t *testing.T) {
	q := New("download")
	q.Push("failed", &media.Item{Key: "failed", Status: media.StatusFailed, Available: true})
	q.Push("cancelled", &media.Item{Key: "cancelled", Status: media.StatusCancelled, Available: true})
	q.Push("done", &media.Item{Key: "done", Status: media.StatusDownloaded, Available: true})
	q.Push("running", &media.Item{Key: "running", Status: media.StatusDownloading, Available: false})

	assert.Equal(t, 2, q.ResetRetryable())

	for _, key := range []string{"failed", "cancelled"} {
		status, ok := q.Status(key)
		require.True(t, ok)
		assert.Equal(t, media.StatusWaiting, status)
	}

	status, _ := q.Status("done")
	assert.Equal(t, media.StatusDownloaded, status)
	status, _ = q.Status("running")
	assert.Equal(t, media.StatusDownloading, status)
}

func TestPruneFinished(t *testing.T) {
	q := New("download")
	q.Push("done", &media.Item{Key: "done", Status: media.StatusDownloaded})
	q.Push("gone", &media.Item{Key: "gone", Status: media.StatusDeleted})
	q.Push("failed", &media.Item{Key: "failed", Status: media.StatusFailed})
	q.Push("waiting", &media.Item{Key: "waiting", Status: media.StatusWaiting})

	assert.Equal(t, 2, q.PruneFinished())
	assert.Equal(t, 2, q.Len())

	_, ok := q.Get("failed")
	assert.True(t, ok, "failed records must survive pruning for retry")
	_, ok = q.Get("waiting")
	assert.True(t, ok)
}

func TestDrain(t *testing.T) {
	q := New("pending")
	q.Push("a", &media.Item{Key: "a"})
	q.Push("b", &media.Item{Key: "b"})

	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, 0, q.Len())

	key, item := q.Pop(false, 0)
	assert.Empty(t, key)
	assert.Nil(t, item)

	// A drained queue keeps accepting records.
	q.Push("c", &media.Item{Key: "c"})
	key, _ = q.Pop(false, 0)
	assert.Equal(t, "c", key)
}

func TestCloseUnblocksPop(t *testing.T) {
	q := New("test")

	done := make(chan struct{})
	go func() {
		defer close(done)
		key, item := q.Pop(true, 0)
		assert.Empty(t, key)
		assert.Nil(t, item)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not unblock pop")
	}
}

func TestStagesSizes(t *testing.T) {
	stages := NewStages()
	stages.Intake.Push("a", &media.Item{Key: "a"})
	stages.Pending.Push("b", &media.Item{Key: "b"})
	stages.Pending.Push("c", &media.Item{Key: "c"})

	sizes := stages.Sizes()
	assert.Equal(t, Sizes{Intake: 1, Pending: 2, Download: 0}, sizes)
}
