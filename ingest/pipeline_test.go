package ingest

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"

	"github.com/arclbx/tgindex/engine"
	"github.com/arclbx/tgindex/monitor"
	"github.com/arclbx/tgindex/types"
)

// fakeSource serves scripted chats and histories. Refs resolve by the
// literal string or by the decimal chat id.
type fakeSource struct {
	chats   map[string]*ChatMeta
	history map[int64][]RawMessage
	// IterHistory returns this error after yielding failAfter messages.
	failErr   error
	failAfter int
	// Called before each yielded message; simulates work that happens
	// while a history download is in flight.
	onYield func(RawMessage)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		chats:   make(map[string]*ChatMeta),
		history: make(map[int64][]RawMessage),
	}
}

func (f *fakeSource) addChat(id int64, title string, msgs ...RawMessage) {
	meta := &ChatMeta{ID: id, Title: title}
	f.chats[strconv.FormatInt(id, 10)] = meta
	f.chats["@"+title] = meta
	f.history[id] = msgs
}

func (f *fakeSource) ResolveChat(ctx context.Context, ref string) (*ChatMeta, error) {
	meta, ok := f.chats[ref]
	if !ok {
		return nil, errors.New("no such chat")
	}
	return meta, nil
}

func (f *fakeSource) IterHistory(ctx context.Context, chatID int64, minID, maxID int, fn func(RawMessage) error) error {
	msgs := append([]RawMessage(nil), f.history[chatID]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	yielded := 0
	for _, m := range msgs {
		if m.ID <= minID || (maxID > 0 && m.ID > maxID) {
			continue
		}
		if f.failErr != nil && yielded >= f.failAfter {
			return f.failErr
		}
		if f.onYield != nil {
			f.onYield(m)
		}
		if err := fn(m); err != nil {
			return err
		}
		yielded++
	}
	return nil
}

func msg(id int, text string, ts int64) RawMessage {
	return RawMessage{ID: id, Text: text, Timestamp: time.Unix(ts, 0), Sender: "alice"}
}

func newTestPipeline(t *testing.T, monitorAll bool, excluded []int64) (*Pipeline, *engine.Engine, *monitor.State, *fakeSource) {
	t.Helper()
	eng, err := engine.Open(context.Background(), t.TempDir()+"/index")
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	state := monitor.New(monitorAll, excluded)
	src := newFakeSource()
	return NewPipeline(eng, state, src), eng, state, src
}

func TestIngestNew(t *testing.T) {
	p, eng, state, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()
	require.NoError(t, state.Monitor(100))

	doc := types.Document{
		Content: "hello", Locator: types.Locator(100, 1),
		ChatID: 100, Timestamp: time.Unix(1000, 0),
	}
	require.NoError(t, p.IngestNew(ctx, doc))

	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	newest, ok := state.Newest(100)
	require.True(t, ok)
	require.Equal(t, "hello", newest.Content)
}

func TestIngestNewSkipsUnmonitored(t *testing.T) {
	p, eng, _, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()

	doc := types.Document{
		Content: "hello", Locator: types.Locator(100, 1),
		ChatID: 100, Timestamp: time.Unix(1000, 0),
	}
	require.NoError(t, p.IngestNew(ctx, doc))

	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestIngestNewSkipsEmptyMessage(t *testing.T) {
	p, eng, state, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()
	require.NoError(t, state.Monitor(100))

	doc := types.Document{Locator: types.Locator(100, 1), ChatID: 100, Timestamp: time.Unix(1000, 0)}
	require.NoError(t, p.IngestNew(ctx, doc))

	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestIngestNewSubstitutesZeroTimestamp(t *testing.T) {
	p, _, state, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()
	require.NoError(t, state.Monitor(100))

	doc := types.Document{Content: "no clock", Locator: types.Locator(100, 1), ChatID: 100}
	require.NoError(t, p.IngestNew(ctx, doc))

	newest, ok := state.Newest(100)
	require.True(t, ok)
	require.False(t, newest.Timestamp.IsZero())
}

func TestIngestEdit(t *testing.T) {
	p, eng, state, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()
	require.NoError(t, state.Monitor(100))

	require.NoError(t, p.IngestNew(ctx, types.Document{
		Content: "hello", Locator: types.Locator(100, 1),
		ChatID: 100, Timestamp: time.Unix(1000, 0), Sender: "alice",
	}))
	require.NoError(t, p.IngestEdit(ctx, 100, 1, "hello world"))

	// The edit replaces, not duplicates.
	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	res := eng.Search(ctx, types.SearchRequest{Query: "world", Page: 1, PageSize: 10})
	require.EqualValues(t, 1, res.TotalHits)
	require.Equal(t, "hello world", res.Hits[0].Content)
	// Every stored field except the content survives the edit.
	require.Equal(t, "alice", res.Hits[0].Sender)
	require.EqualValues(t, 1000, res.Hits[0].Timestamp.Unix())

	// The cached newest document reflects the edit.
	newest, ok := state.Newest(100)
	require.True(t, ok)
	require.Equal(t, "hello world", newest.Content)
}

func TestIngestEditUnknownMessage(t *testing.T) {
	p, eng, state, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()
	require.NoError(t, state.Monitor(100))

	t.Run("NonEmptyTextBecomesNew", func(t *testing.T) {
		require.NoError(t, p.IngestEdit(ctx, 100, 7, "late arrival"))
		count, err := eng.Count(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
	})
	t.Run("EmptyTextIsNoop", func(t *testing.T) {
		require.NoError(t, p.IngestEdit(ctx, 100, 8, ""))
		count, err := eng.Count(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
	})
}

func TestIngestEditToEmptyText(t *testing.T) {
	p, eng, state, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()
	require.NoError(t, state.Monitor(100))

	t.Run("TextOnlyMessageIsDeleted", func(t *testing.T) {
		require.NoError(t, p.IngestNew(ctx, types.Document{
			Content: "soon gone", Locator: types.Locator(100, 1),
			ChatID: 100, Timestamp: time.Unix(1000, 0),
		}))
		require.NoError(t, p.IngestEdit(ctx, 100, 1, ""))

		got, err := eng.GetDocument(ctx, types.Locator(100, 1))
		require.NoError(t, err)
		require.Nil(t, got)
		_, ok := state.Newest(100)
		require.False(t, ok)
	})
	t.Run("AttachmentMessageIsKept", func(t *testing.T) {
		require.NoError(t, p.IngestNew(ctx, types.Document{
			Content: "caption", AttachmentName: "a.pdf", Locator: types.Locator(100, 2),
			ChatID: 100, Timestamp: time.Unix(2000, 0),
		}))
		require.NoError(t, p.IngestEdit(ctx, 100, 2, ""))

		got, err := eng.GetDocument(ctx, types.Locator(100, 2))
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Empty(t, got.Content)
		require.Equal(t, "a.pdf", got.AttachmentName)
	})
}

func TestIngestEditUnchangedContentIsNoop(t *testing.T) {
	p, _, state, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()
	require.NoError(t, state.Monitor(100))

	require.NoError(t, p.IngestNew(ctx, types.Document{
		Content: "same", Locator: types.Locator(100, 1),
		ChatID: 100, Timestamp: time.Unix(1000, 0),
	}))
	require.NoError(t, p.IngestEdit(ctx, 100, 1, "same"))

	newest, ok := state.Newest(100)
	require.True(t, ok)
	require.Equal(t, "same", newest.Content)
}

func TestIngestDelete(t *testing.T) {
	p, eng, state, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()
	require.NoError(t, state.Monitor(100))

	for i := 1; i <= 3; i++ {
		require.NoError(t, p.IngestNew(ctx, types.Document{
			Content: "msg", Locator: types.Locator(100, i),
			ChatID: 100, Timestamp: time.Unix(int64(1000+i), 0),
		}))
	}

	require.NoError(t, p.IngestDelete(ctx, 100, []int{3}))

	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	// Deleting the newest drops the cache entry without recomputing it.
	_, ok := state.Newest(100)
	require.False(t, ok)

	// Deleting an older message leaves the cache alone.
	require.NoError(t, p.IngestNew(ctx, types.Document{
		Content: "fresh", Locator: types.Locator(100, 4),
		ChatID: 100, Timestamp: time.Unix(2000, 0),
	}))
	require.NoError(t, p.IngestDelete(ctx, 100, []int{1}))
	newest, ok := state.Newest(100)
	require.True(t, ok)
	require.Equal(t, "fresh", newest.Content)
}

func TestBackfill(t *testing.T) {
	p, eng, state, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "devs",
		msg(1, "first", 1000), msg(2, "second", 2000), msg(3, "third", 3000))

	indexed, err := p.Backfill(ctx, "@devs", 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 3, indexed)

	// The chat was promoted to monitored.
	require.True(t, state.Monitored(100))

	count, err := eng.CountChat(ctx, 100)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	newest, ok := state.Newest(100)
	require.True(t, ok)
	require.Equal(t, "third", newest.Content)
}

func TestBackfillIDBounds(t *testing.T) {
	p, eng, _, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "devs",
		msg(1, "one", 1000), msg(2, "two", 2000), msg(3, "three", 3000), msg(4, "four", 4000))

	indexed, err := p.Backfill(ctx, "100", 1, 3, nil)
	require.NoError(t, err)
	require.Equal(t, 2, indexed)

	res := eng.Search(ctx, types.SearchRequest{ChatIDs: []int64{100}, Page: 1, PageSize: 10})
	require.EqualValues(t, 2, res.TotalHits)
	locators := []string{res.Hits[0].Locator, res.Hits[1].Locator}
	require.Contains(t, locators, types.Locator(100, 2))
	require.Contains(t, locators, types.Locator(100, 3))
}

func TestBackfillUnknownChat(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, false, nil)

	_, err := p.Backfill(context.Background(), "@nowhere", 0, 0, nil)
	require.ErrorIs(t, err, types.ErrEntityNotFound)
}

func TestBackfillExcludedChat(t *testing.T) {
	p, eng, _, src := newTestPipeline(t, false, []int64{100})
	ctx := context.Background()
	src.addChat(100, "banned", msg(1, "text", 1000))

	_, err := p.Backfill(ctx, "@banned", 0, 0, nil)
	require.ErrorIs(t, err, types.ErrPolicyRejected)

	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestBackfillFailureRollsBackPromotion(t *testing.T) {
	p, eng, state, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "flaky", msg(1, "one", 1000), msg(2, "two", 2000), msg(3, "three", 3000))
	src.failErr = errors.New("history fetch failed")
	src.failAfter = 2

	_, err := p.Backfill(ctx, "@flaky", 0, 0, nil)
	require.Error(t, err)

	// Nothing from the failed batch is visible and the implicit promotion
	// was undone.
	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
	require.False(t, state.Monitored(100))
	_, ok := state.Newest(100)
	require.False(t, ok)
}

func TestBackfillFailureKeepsExistingMonitoring(t *testing.T) {
	p, _, state, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "flaky", msg(1, "one", 1000))
	require.NoError(t, state.Monitor(100))
	src.failErr = errors.New("history fetch failed")

	_, err := p.Backfill(ctx, "@flaky", 0, 0, nil)
	require.Error(t, err)
	require.True(t, state.Monitored(100))
}

func TestBackfillNeverRegressesNewestCache(t *testing.T) {
	p, _, state, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "devs", msg(1, "old history", 1000))
	require.NoError(t, state.Monitor(100))

	// A real-time message newer than anything in the history batch.
	require.NoError(t, p.IngestNew(ctx, types.Document{
		Content: "live", Locator: types.Locator(100, 50),
		ChatID: 100, Timestamp: time.Unix(9000, 0),
	}))

	_, err := p.Backfill(ctx, "100", 0, 0, nil)
	require.NoError(t, err)

	newest, ok := state.Newest(100)
	require.True(t, ok)
	require.Equal(t, "live", newest.Content)
}

func TestBackfillAllowsLiveWritesDuringDownload(t *testing.T) {
	p, eng, state, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "devs", msg(1, "one", 1000), msg(2, "two", 2000))
	require.NoError(t, state.Monitor(200))

	// Real-time messages for another chat arrive while the history of chat
	// 100 is still being downloaded. They must land, not fail write-locked.
	var live int
	src.onYield = func(RawMessage) {
		live++
		require.NoError(t, p.IngestNew(ctx, types.Document{
			Content: "live", Locator: types.Locator(200, live),
			ChatID: 200, Timestamp: time.Unix(int64(5000+live), 0),
		}))
	}

	indexed, err := p.Backfill(ctx, "100", 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 2, indexed)

	count, err := eng.CountChat(ctx, 200)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestBackfillBatchSkipsFailedDocument(t *testing.T) {
	p, eng, _, _ := newTestPipeline(t, false, nil)
	ctx := context.Background()

	txn, err := eng.Begin()
	require.NoError(t, err)
	docs := []types.Document{
		{Content: "first", Locator: types.Locator(100, 1), ChatID: 100, Timestamp: time.Unix(1000, 0)},
		{Content: "broken", ChatID: 100, Timestamp: time.Unix(2000, 0)},
		{Content: "last", Locator: types.Locator(100, 3), ChatID: 100, Timestamp: time.Unix(3000, 0)},
	}
	indexed, newest := p.indexBatch(ctx, txn, docs)
	require.NoError(t, txn.Commit())

	// The unwritable document is skipped, the rest of the batch survives.
	require.Equal(t, 2, indexed)
	require.NotNil(t, newest)
	require.Equal(t, "last", newest.Content)

	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestResolveBackfillTarget(t *testing.T) {
	p, _, _, src := newTestPipeline(t, false, []int64{200})
	ctx := context.Background()
	src.addChat(100, "devs", msg(1, "hello", 1000))
	src.addChat(200, "banned", msg(1, "nope", 1000))

	t.Run("Resolved", func(t *testing.T) {
		meta, err := p.ResolveBackfillTarget(ctx, "@devs")
		require.NoError(t, err)
		require.EqualValues(t, 100, meta.ID)
	})
	t.Run("Unknown", func(t *testing.T) {
		_, err := p.ResolveBackfillTarget(ctx, "@nowhere")
		require.ErrorIs(t, err, types.ErrEntityNotFound)
	})
	t.Run("Excluded", func(t *testing.T) {
		_, err := p.ResolveBackfillTarget(ctx, "@banned")
		require.ErrorIs(t, err, types.ErrPolicyRejected)
	})
}

func TestBackfillProgress(t *testing.T) {
	p, _, _, src := newTestPipeline(t, false, nil)
	ctx := context.Background()

	msgs := make([]RawMessage, 0, 250)
	for i := 1; i <= 250; i++ {
		msgs = append(msgs, msg(i, "bulk", int64(1000+i)))
	}
	src.addChat(100, "big", msgs...)

	var calls []int
	indexed, err := p.Backfill(ctx, "100", 0, 0, func(n int) {
		calls = append(calls, n)
	})
	require.NoError(t, err)
	require.Equal(t, 250, indexed)
	require.Equal(t, []int{100, 200, 250}, calls)
}

func TestBackfillSkipsEmptyMessages(t *testing.T) {
	p, eng, _, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "devs",
		msg(1, "text", 1000), msg(2, "", 2000), msg(3, "more", 3000))

	indexed, err := p.Backfill(ctx, "100", 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 2, indexed)

	count, err := eng.CountChat(ctx, 100)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestReconcileOnStartup(t *testing.T) {
	p, eng, _, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "devs", msg(1, "hello", 1000))
	src.addChat(200, "ops", msg(1, "hey", 1000))

	_, err := p.Backfill(ctx, "100", 0, 0, nil)
	require.NoError(t, err)
	_, err = p.Backfill(ctx, "200", 0, 0, nil)
	require.NoError(t, err)

	// Fresh process: new state, same index.
	state2 := monitor.New(false, []int64{200})
	p2 := NewPipeline(eng, state2, src)
	require.NoError(t, p2.ReconcileOnStartup(ctx))

	// Chat 200 became excluded since the last run and is dropped from
	// monitoring; chat 100 comes back with its newest document cached.
	require.Equal(t, []int64{100}, state2.MonitoredChats())
	newest, ok := state2.Newest(100)
	require.True(t, ok)
	require.Equal(t, "hello", newest.Content)
	_, ok = state2.Newest(200)
	require.False(t, ok)
}

func TestReconcileDropsUnresolvableChats(t *testing.T) {
	p, eng, _, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "devs", msg(1, "hello", 1000))

	_, err := p.Backfill(ctx, "100", 0, 0, nil)
	require.NoError(t, err)

	// The chat disappears from the source (left, deleted, banned).
	emptySrc := newFakeSource()
	state2 := monitor.New(false, nil)
	p2 := NewPipeline(eng, state2, emptySrc)
	require.NoError(t, p2.ReconcileOnStartup(ctx))

	require.Empty(t, state2.MonitoredChats())
	// The documents stay; only monitoring stops.
	count, err := eng.CountChat(ctx, 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestRemoveChatData(t *testing.T) {
	p, eng, state, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "devs", msg(1, "one", 1000), msg(2, "two", 2000))

	_, err := p.Backfill(ctx, "100", 0, 0, nil)
	require.NoError(t, err)

	removed, err := p.RemoveChatData(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.False(t, state.Monitored(100))
	_, ok := state.Newest(100)
	require.False(t, ok)

	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestRemoveAllData(t *testing.T) {
	p, eng, state, src := newTestPipeline(t, false, nil)
	ctx := context.Background()
	src.addChat(100, "devs", msg(1, "one", 1000))
	src.addChat(200, "ops", msg(1, "two", 2000))

	_, err := p.Backfill(ctx, "100", 0, 0, nil)
	require.NoError(t, err)
	_, err = p.Backfill(ctx, "200", 0, 0, nil)
	require.NoError(t, err)

	removed, err := p.RemoveAllData(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.Empty(t, state.MonitoredChats())

	count, err := eng.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestRemoveAllDataDropsMonitorAllCache(t *testing.T) {
	p, _, state, src := newTestPipeline(t, true, nil)
	ctx := context.Background()
	src.addChat(500, "revived", msg(1, "rebuilt", 1000))

	// Under monitor_all a chat gains a cache entry without ever joining the
	// monitored set.
	require.NoError(t, p.IngestNew(ctx, types.Document{
		Content: "drive-by", Locator: types.Locator(500, 9),
		ChatID: 500, Timestamp: time.Unix(9000, 0),
	}))

	_, err := p.RemoveAllData(ctx)
	require.NoError(t, err)
	_, ok := state.Newest(500)
	require.False(t, ok)

	// A rebuild with an older document must win; nothing from before the
	// wipe may pin the cache.
	_, err = p.Backfill(ctx, "500", 0, 0, nil)
	require.NoError(t, err)
	newest, ok := state.Newest(500)
	require.True(t, ok)
	require.Equal(t, "rebuilt", newest.Content)
}

func TestMonitorAllIngestsUnseenChat(t *testing.T) {
	p, eng, _, _ := newTestPipeline(t, true, []int64{666})
	ctx := context.Background()

	require.NoError(t, p.IngestNew(ctx, types.Document{
		Content: "drive-by", Locator: types.Locator(500, 1),
		ChatID: 500, Timestamp: time.Unix(1000, 0),
	}))
	require.NoError(t, p.IngestNew(ctx, types.Document{
		Content: "banned", Locator: types.Locator(666, 1),
		ChatID: 666, Timestamp: time.Unix(1000, 0),
	}))

	count, err := eng.CountChat(ctx, 500)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	count, err = eng.CountChat(ctx, 666)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}
