package ingest

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"github.com/arclbx/tgindex/database"
	"github.com/arclbx/tgindex/engine"
	"github.com/arclbx/tgindex/monitor"
	"github.com/arclbx/tgindex/types"
)

// progressEvery is the backfill progress-callback cadence, in messages.
const progressEvery = 100

// Pipeline is the single writer of the index. Real-time handlers and the
// HTTP surface both go through it, never through the engine directly.
type Pipeline struct {
	eng    *engine.Engine
	state  *monitor.State
	source MessageSource
}

func NewPipeline(eng *engine.Engine, state *monitor.State, source MessageSource) *Pipeline {
	return &Pipeline{eng: eng, state: state, source: source}
}

// IngestNew indexes one freshly received message. Messages from chats that
// are not being monitored, and messages with nothing to index, are dropped
// silently.
func (p *Pipeline) IngestNew(ctx context.Context, doc types.Document) error {
	if !p.state.ShouldIngest(doc.ChatID) {
		return nil
	}
	if !doc.Indexable() {
		return nil
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now()
	}
	if err := p.eng.Add(ctx, &doc, nil); err != nil {
		return fmt.Errorf("failed to ingest message %s: %w", doc.Locator, err)
	}
	p.state.ObserveNewest(doc.ChatID, doc)
	return nil
}

// IngestEdit applies a content edit. An edit of an unknown message with
// non-empty text is treated as new (the gap usually means the original
// arrived before monitoring started); with empty text it is a no-op. For a
// known message only the content changes, every other stored field is kept.
func (p *Pipeline) IngestEdit(ctx context.Context, chatID int64, messageID int, newText string) error {
	if !p.state.ShouldIngest(chatID) {
		return nil
	}
	locator := types.Locator(chatID, messageID)
	existing, err := p.eng.GetDocument(ctx, locator)
	if err != nil {
		return fmt.Errorf("failed to look up edited message %s: %w", locator, err)
	}
	if existing == nil {
		if newText == "" {
			return nil
		}
		return p.IngestNew(ctx, types.Document{
			Content:   newText,
			Locator:   locator,
			ChatID:    chatID,
			Timestamp: time.Now(),
		})
	}
	if existing.Content == newText {
		return nil
	}

	updated := *existing
	updated.Content = newText
	// An edit that leaves nothing indexable removes the document; keeping
	// the stale content around would be worse than the gap.
	if !updated.Indexable() {
		if _, err := p.eng.Delete(ctx, locator, nil); err != nil {
			return fmt.Errorf("failed to remove emptied message %s: %w", locator, err)
		}
		if cached, ok := p.state.Newest(chatID); ok && cached.Locator == locator {
			p.state.InvalidateNewest(chatID)
		}
		return nil
	}
	if err := p.eng.Replace(ctx, &updated); err != nil {
		return fmt.Errorf("failed to replace edited message %s: %w", locator, err)
	}
	if cached, ok := p.state.Newest(chatID); ok && cached.Locator == locator {
		p.state.ReplaceNewest(chatID, updated)
	}
	return nil
}

// IngestDelete removes the given messages from the index. When the cached
// newest document is among them the cache entry is dropped, not recomputed;
// the next status query refills it from the index.
func (p *Pipeline) IngestDelete(ctx context.Context, chatID int64, messageIDs []int) error {
	if p.state.Excluded(chatID) {
		return nil
	}
	var errs error
	for _, messageID := range messageIDs {
		locator := types.Locator(chatID, messageID)
		if _, err := p.eng.Delete(ctx, locator, nil); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to delete %s: %w", locator, err))
			continue
		}
		if cached, ok := p.state.Newest(chatID); ok && cached.Locator == locator {
			p.state.InvalidateNewest(chatID)
		}
	}
	return errs
}

// ResolveBackfillTarget resolves a chat reference and applies the exclusion
// policy without starting a download. The HTTP surface calls it before
// accepting a backfill, so a typo or a banned chat fails the request itself
// rather than a background job.
func (p *Pipeline) ResolveBackfillTarget(ctx context.Context, chatRef string) (*ChatMeta, error) {
	if p.source == nil {
		return nil, fmt.Errorf("backfill requires a message source")
	}
	meta, err := p.source.ResolveChat(ctx, chatRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chat %q: %w", chatRef, types.ErrEntityNotFound)
	}
	if p.state.Excluded(meta.ID) {
		return nil, fmt.Errorf("chat %d is excluded: %w", meta.ID, types.ErrPolicyRejected)
	}
	return meta, nil
}

// Backfill downloads the history of a chat in (minID, maxID] and indexes it
// as one transaction. A chat not yet monitored is promoted implicitly; when
// the backfill then fails outright, the promotion is rolled back so a typo
// in a chat reference cannot leave a ghost monitored chat behind.
func (p *Pipeline) Backfill(ctx context.Context, chatRef string, minID, maxID int, progress func(indexed int)) (int, error) {
	meta, err := p.ResolveBackfillTarget(ctx, chatRef)
	if err != nil {
		return 0, err
	}

	wasMonitored := p.state.Monitored(meta.ID)
	if err := p.state.Monitor(meta.ID); err != nil {
		return 0, err
	}
	p.upsertMeta(ctx, meta)

	logger := log.FromContext(ctx).With("chat_id", meta.ID)
	logger.Info("Backfill started", "min_id", minID, "max_id", maxID)

	// The whole history is collected before the write transaction opens.
	// Holding the exclusive writer across the network download would make
	// every concurrent real-time write fail ErrWriteLocked for the
	// duration; this way the writer is held only for the batch write.
	var docs []types.Document
	err = p.source.IterHistory(ctx, meta.ID, minID, maxID, func(m RawMessage) error {
		doc := documentFrom(meta.ID, m)
		if !doc.Indexable() {
			return nil
		}
		docs = append(docs, doc)
		if len(docs)%progressEvery == 0 {
			if progress != nil {
				progress(len(docs))
			}
			runtime.Gosched()
		}
		return nil
	})
	if err != nil {
		p.rollbackPromotion(meta.ID, wasMonitored)
		return 0, fmt.Errorf("backfill of chat %d failed: %w", meta.ID, err)
	}

	txn, err := p.beginWithRetry(ctx)
	if err != nil {
		p.rollbackPromotion(meta.ID, wasMonitored)
		return 0, err
	}
	defer txn.Cancel()

	indexed, newest := p.indexBatch(ctx, txn, docs)

	if err := txn.Commit(); err != nil {
		p.rollbackPromotion(meta.ID, wasMonitored)
		return 0, fmt.Errorf("failed to commit backfill of chat %d: %w", meta.ID, err)
	}
	if progress != nil {
		progress(indexed)
	}
	// Only the batch's own newest feeds the cache. A fresher real-time
	// document observed during the backfill is never overwritten.
	if newest != nil {
		p.state.ObserveNewest(meta.ID, *newest)
	}
	logger.Info("Backfill finished", "indexed", indexed)
	return indexed, nil
}

// indexBatch writes the collected documents into the transaction. A
// document that fails to index is logged and skipped; it never takes the
// rest of the batch down with it. History arrives oldest first, so the
// last written document is the batch's newest.
func (p *Pipeline) indexBatch(ctx context.Context, txn *engine.Txn, docs []types.Document) (int, *types.Document) {
	var indexed int
	var newest *types.Document
	for i := range docs {
		if err := p.eng.Add(ctx, &docs[i], txn); err != nil {
			log.FromContext(ctx).Warn("Skipping document that failed to index",
				"locator", docs[i].Locator, "chat_id", docs[i].ChatID, "error", err)
			continue
		}
		newest = &docs[i]
		indexed++
	}
	return indexed, newest
}

// ReconcileOnStartup derives the monitored set from the chat-id lexicon of
// the index, drops chats that became excluded or unresolvable since the
// last run, and eagerly fills the newest-document cache.
func (p *Pipeline) ReconcileOnStartup(ctx context.Context) error {
	chats, err := p.eng.IndexedChats(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate indexed chats: %w", err)
	}
	logger := log.FromContext(ctx)
	for _, chatID := range chats {
		if p.state.Excluded(chatID) {
			logger.Info("Indexed chat is excluded, not monitoring", "chat_id", chatID)
			continue
		}
		if p.source != nil {
			meta, err := p.source.ResolveChat(ctx, strconv.FormatInt(chatID, 10))
			if err != nil {
				logger.Warn("Indexed chat no longer resolvable, not monitoring",
					"chat_id", chatID, "error", err)
				continue
			}
			p.upsertMeta(ctx, meta)
		}
		if err := p.state.Monitor(chatID); err != nil {
			continue
		}
		newest, err := p.eng.NewestInChat(ctx, chatID)
		if err != nil {
			logger.Warn("Failed to prefetch newest document", "chat_id", chatID, "error", err)
			continue
		}
		if newest != nil {
			p.state.ObserveNewest(chatID, *newest)
		}
	}
	logger.Info("Monitoring state restored from index",
		"monitored", len(p.state.MonitoredChats()), "indexed_chats", len(chats))
	return nil
}

// RemoveChatData deletes every document of a chat, stops monitoring it and
// drops its metadata row. Partial failures are aggregated, not masked.
func (p *Pipeline) RemoveChatData(ctx context.Context, chatID int64) (int, error) {
	removed, err := p.eng.DeleteByChat(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents of chat %d: %w", chatID, err)
	}
	p.state.Forget(chatID)

	var errs error
	if database.Ready() {
		if err := database.DeleteChatInfo(ctx, chatID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to delete metadata of chat %d: %w", chatID, err))
		}
	}
	return removed, errs
}

// RemoveAllData clears the whole index and resets the monitoring state
// wholesale. Under monitor_all, chats gain newest-cache entries without
// ever joining the monitored set, so forgetting the monitored chats one by
// one would leave those entries pointing at deleted documents.
func (p *Pipeline) RemoveAllData(ctx context.Context) (int, error) {
	removed, err := p.eng.ClearAll(ctx)
	if err != nil {
		return 0, err
	}
	p.state.Reset()
	return removed, nil
}

// beginWithRetry waits out short write-lock contention with constant
// backoff instead of failing the whole backfill immediately.
func (p *Pipeline) beginWithRetry(ctx context.Context) (*engine.Txn, error) {
	var txn *engine.Txn
	operation := func() error {
		var err error
		txn, err = p.eng.Begin()
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 25), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return txn, nil
}

func (p *Pipeline) rollbackPromotion(chatID int64, wasMonitored bool) {
	if !wasMonitored {
		p.state.Forget(chatID)
	}
}

func (p *Pipeline) upsertMeta(ctx context.Context, meta *ChatMeta) {
	if !database.Ready() {
		return
	}
	err := database.UpsertChatInfo(ctx, &database.ChatInfo{
		ChatID:   meta.ID,
		Title:    meta.Title,
		Username: meta.Username,
		Kind:     meta.Kind,
	})
	if err != nil {
		log.FromContext(ctx).Warn("Failed to store chat metadata", "chat_id", meta.ID, "error", err)
	}
}

func documentFrom(chatID int64, m RawMessage) types.Document {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return types.Document{
		Content:        m.Text,
		Locator:        types.Locator(chatID, m.ID),
		ChatID:         chatID,
		Timestamp:      ts,
		Sender:         m.Sender,
		AttachmentName: m.AttachmentName,
	}
}
