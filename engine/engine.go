package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/charmbracelet/log"
	"github.com/duke-git/lancet/v2/slice"

	"github.com/arclbx/tgindex/types"
)

// deleteScanSize bounds one page of the locator scan used by DeleteByChat.
const deleteScanSize = 500

// Engine is the sole owner of index mutation and query execution. All
// writes go through a single exclusive transaction; reads are safely
// concurrent with each other and with an uncommitted transaction, which
// they observe as the last committed snapshot.
type Engine struct {
	indexPath string
	index     bleve.Index

	// Guards the one writable transaction. TryLock failure maps to
	// ErrWriteLocked rather than blocking the caller.
	writeMu sync.Mutex
}

// Open opens the index at indexPath, creating it when absent. An existing
// index whose field set disagrees with types.SchemaFields is refused with
// a SchemaMismatchError; it is never silently migrated.
func Open(ctx context.Context, indexPath string) (*Engine, error) {
	if _, err := os.Stat(indexPath); err == nil {
		idx, err := bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open index: %w", err)
		}
		if err := verifySchema(idx.Mapping()); err != nil {
			idx.Close()
			return nil, err
		}
		log.FromContext(ctx).Debug("Opened existing index", "path", indexPath)
		return &Engine{indexPath: indexPath, index: idx}, nil
	}

	idx, err := bleve.New(indexPath, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	log.FromContext(ctx).Info("Created new index", "path", indexPath)
	return &Engine{indexPath: indexPath, index: idx}, nil
}

func (e *Engine) Close() error {
	return e.index.Close()
}

// buildIndexMapping derives the bleve mapping from the shared schema
// descriptor, so the mapping and the open-time check cannot diverge.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()
	for _, f := range types.SchemaFields {
		var fm *mapping.FieldMapping
		switch f.Kind {
		case types.FieldText:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = standard.Name
		case types.FieldKeyword:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = keyword.Name
		case types.FieldNumeric:
			fm = bleve.NewNumericFieldMapping()
		}
		fm.Store = true
		docMapping.AddFieldMappingsAt(f.Name, fm)
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("message", docMapping)
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func verifySchema(m mapping.IndexMapping) error {
	impl, ok := m.(*mapping.IndexMappingImpl)
	if !ok || impl.DefaultMapping == nil {
		return &types.SchemaMismatchError{Missing: types.SchemaFieldNames()}
	}
	onDisk := make(map[string]struct{}, len(impl.DefaultMapping.Properties))
	for name := range impl.DefaultMapping.Properties {
		onDisk[name] = struct{}{}
	}

	var mismatch types.SchemaMismatchError
	for _, name := range types.SchemaFieldNames() {
		if _, ok := onDisk[name]; !ok {
			mismatch.Missing = append(mismatch.Missing, name)
		} else {
			delete(onDisk, name)
		}
	}
	for name := range onDisk {
		mismatch.Extra = append(mismatch.Extra, name)
	}
	if len(mismatch.Missing) > 0 || len(mismatch.Extra) > 0 {
		sort.Strings(mismatch.Missing)
		sort.Strings(mismatch.Extra)
		return &mismatch
	}
	return nil
}

// Txn is the single writable transaction. At most one exists at a time;
// it must end in exactly one Commit or Cancel.
type Txn struct {
	eng   *Engine
	batch *bleve.Batch
	done  bool
}

// Begin acquires the write transaction, failing fast with ErrWriteLocked
// when another writer holds it.
func (e *Engine) Begin() (*Txn, error) {
	if !e.writeMu.TryLock() {
		return nil, types.ErrWriteLocked
	}
	return &Txn{eng: e, batch: e.index.NewBatch()}, nil
}

// Commit applies the whole batch atomically and releases the writer.
func (t *Txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.eng.writeMu.Unlock()
	if err := t.eng.index.Batch(t.batch); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Cancel discards all buffered mutations and releases the writer. Safe to
// call after Commit, so it can be deferred.
func (t *Txn) Cancel() {
	if t.done {
		return
	}
	t.done = true
	t.batch.Reset()
	t.eng.writeMu.Unlock()
}

// Add indexes one document. With a nil txn it opens, writes and commits
// its own transaction; otherwise the write lands in the supplied batch
// and becomes visible only after that transaction commits.
func (e *Engine) Add(ctx context.Context, doc *types.Document, txn *Txn) error {
	if txn == nil {
		own, err := e.Begin()
		if err != nil {
			return err
		}
		defer own.Cancel()
		if err := own.batch.Index(doc.Locator, indexFields(doc)); err != nil {
			return fmt.Errorf("failed to add document %s: %w", doc.Locator, err)
		}
		return own.Commit()
	}
	if err := txn.batch.Index(doc.Locator, indexFields(doc)); err != nil {
		return fmt.Errorf("failed to add document %s: %w", doc.Locator, err)
	}
	return nil
}

// Replace atomically overwrites the document with the given locator,
// inserting it when absent. Fails with ErrInvalidFields before touching
// the index when required fields are missing.
func (e *Engine) Replace(ctx context.Context, doc *types.Document) error {
	if doc.Locator == "" || doc.ChatID == 0 || doc.Timestamp.IsZero() || !doc.Indexable() {
		return types.ErrInvalidFields
	}
	return e.Add(ctx, doc, nil)
}

// Delete removes the document with the given locator, reporting how many
// documents were removed. Deleting an absent locator is a no-op.
func (e *Engine) Delete(ctx context.Context, locator string, txn *Txn) (int, error) {
	existing, err := e.GetDocument(ctx, locator)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, nil
	}
	if txn == nil {
		own, err := e.Begin()
		if err != nil {
			return 0, err
		}
		defer own.Cancel()
		own.batch.Delete(locator)
		return 1, own.Commit()
	}
	txn.batch.Delete(locator)
	return 1, nil
}

// DeleteByChat removes every document of one chat in a single transaction.
func (e *Engine) DeleteByChat(ctx context.Context, chatID int64) (int, error) {
	locators, err := e.chatLocators(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if len(locators) == 0 {
		return 0, nil
	}
	txn, err := e.Begin()
	if err != nil {
		return 0, err
	}
	defer txn.Cancel()
	for _, loc := range locators {
		txn.batch.Delete(loc)
	}
	if err := txn.Commit(); err != nil {
		return 0, err
	}
	log.FromContext(ctx).Debug("Deleted chat documents", "chat_id", chatID, "count", len(locators))
	return len(locators), nil
}

func (e *Engine) chatLocators(ctx context.Context, chatID int64) ([]string, error) {
	q := chatTermQuery(chatID)
	var locators []string
	for from := 0; ; from += deleteScanSize {
		req := bleve.NewSearchRequestOptions(q, deleteScanSize, from, false)
		res, err := e.index.Search(req)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat %d: %w", chatID, err)
		}
		for _, hit := range res.Hits {
			locators = append(locators, hit.ID)
		}
		if uint64(from+len(res.Hits)) >= res.Total || len(res.Hits) == 0 {
			break
		}
	}
	return slice.Unique(locators), nil
}

// ClearAll drops the entire index and recreates it empty, reporting the
// number of documents discarded.
func (e *Engine) ClearAll(ctx context.Context) (int, error) {
	if !e.writeMu.TryLock() {
		return 0, types.ErrWriteLocked
	}
	defer e.writeMu.Unlock()

	count, err := e.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := e.index.Close(); err != nil {
		return 0, fmt.Errorf("failed to close index: %w", err)
	}
	if err := os.RemoveAll(e.indexPath); err != nil {
		return 0, fmt.Errorf("failed to delete index directory: %w", err)
	}
	idx, err := bleve.New(e.indexPath, buildIndexMapping())
	if err != nil {
		return 0, fmt.Errorf("failed to recreate index: %w", err)
	}
	e.index = idx
	log.FromContext(ctx).Warn("Index cleared", "path", e.indexPath, "dropped", count)
	return int(count), nil
}

// Count returns the exact number of indexed documents.
func (e *Engine) Count(ctx context.Context) (uint64, error) {
	return e.index.DocCount()
}

// CountChat returns the exact number of indexed documents in one chat.
func (e *Engine) CountChat(ctx context.Context, chatID int64) (uint64, error) {
	req := bleve.NewSearchRequestOptions(chatTermQuery(chatID), 0, 0, false)
	res, err := e.index.Search(req)
	if err != nil {
		return 0, fmt.Errorf("failed to count chat %d: %w", chatID, err)
	}
	return res.Total, nil
}

// GetDocument fetches the stored document for a locator, or nil when the
// locator is not indexed.
func (e *Engine) GetDocument(ctx context.Context, locator string) (*types.Document, error) {
	if locator == "" {
		return nil, nil
	}
	q := query.NewDocIDQuery([]string{locator})
	req := bleve.NewSearchRequestOptions(q, 1, 0, false)
	req.Fields = []string{"*"}
	res, err := e.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", locator, err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	doc := documentFromFields(res.Hits[0].ID, res.Hits[0].Fields)
	return &doc, nil
}

// RandomDocument returns one uniformly selected document from the corpus.
func (e *Engine) RandomDocument(ctx context.Context) (*types.Document, error) {
	total, err := e.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if total == 0 {
		return nil, types.ErrEmptyIndex
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 1, rand.IntN(int(total)), false)
	req.Fields = []string{"*"}
	res, err := e.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("random document search failed: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, types.ErrEmptyIndex
	}
	doc := documentFromFields(res.Hits[0].ID, res.Hits[0].Fields)
	return &doc, nil
}

// IndexedChats enumerates the chat ids present in the index by walking the
// chat_id field lexicon. This is how the monitored set is restored after a
// restart: the index itself is the only durable state.
func (e *Engine) IndexedChats(ctx context.Context) ([]int64, error) {
	dict, err := e.index.FieldDict(types.FieldChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat_id lexicon: %w", err)
	}
	defer dict.Close()

	var chats []int64
	for {
		entry, err := dict.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate chat_id lexicon: %w", err)
		}
		if entry == nil {
			break
		}
		id, err := strconv.ParseInt(entry.Term, 10, 64)
		if err != nil {
			log.FromContext(ctx).Warn("Skipping non-numeric chat_id term", "term", entry.Term)
			continue
		}
		chats = append(chats, id)
	}
	return chats, nil
}

// NewestInChat returns the most recently timestamped document of one chat,
// or nil when the chat has no documents. Used to rebuild the newest-message
// cache instead of persisting it.
func (e *Engine) NewestInChat(ctx context.Context, chatID int64) (*types.Document, error) {
	req := bleve.NewSearchRequestOptions(chatTermQuery(chatID), 1, 0, false)
	req.SortBy([]string{"-" + types.FieldTimestamp})
	req.Fields = []string{"*"}
	res, err := e.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query newest in chat %d: %w", chatID, err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	doc := documentFromFields(res.Hits[0].ID, res.Hits[0].Fields)
	return &doc, nil
}

func chatTermQuery(chatID int64) query.Query {
	q := query.NewTermQuery(strconv.FormatInt(chatID, 10))
	q.SetField(types.FieldChatID)
	return q
}

func indexFields(doc *types.Document) map[string]any {
	hasAttachment := 0
	if doc.HasAttachment() {
		hasAttachment = 1
	}
	return map[string]any{
		types.FieldContent:        doc.Content,
		types.FieldLocator:        doc.Locator,
		types.FieldChatID:         strconv.FormatInt(doc.ChatID, 10),
		types.FieldTimestamp:      float64(doc.Timestamp.Unix()),
		types.FieldSender:         doc.Sender,
		types.FieldAttachmentName: doc.AttachmentName,
		types.FieldHasAttachment:  hasAttachment,
	}
}

func documentFromFields(id string, fields map[string]any) types.Document {
	doc := types.Document{Locator: id}
	if content, ok := fields[types.FieldContent].(string); ok {
		doc.Content = content
	}
	if locator, ok := fields[types.FieldLocator].(string); ok && locator != "" {
		doc.Locator = locator
	}
	if chatID, ok := fields[types.FieldChatID].(string); ok {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			doc.ChatID = id
		}
	}
	if ts, ok := fields[types.FieldTimestamp].(float64); ok {
		doc.Timestamp = time.Unix(int64(ts), 0)
	}
	if sender, ok := fields[types.FieldSender].(string); ok {
		doc.Sender = sender
	}
	if name, ok := fields[types.FieldAttachmentName].(string); ok {
		doc.AttachmentName = name
	}
	return doc
}
