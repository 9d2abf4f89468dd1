package engine

import (
	"context"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/charmbracelet/log"

	"github.com/arclbx/tgindex/types"
)

const defaultPageSize = 10

// Search runs a filtered, paginated query sorted by timestamp descending.
// A failed or malformed query degrades to an empty result instead of an
// error, so a query-serving surface never breaks on bad input.
func (e *Engine) Search(ctx context.Context, req types.SearchRequest) *types.SearchResult {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	searchRequest := bleve.NewSearchRequestOptions(
		buildQuery(req), pageSize, (page-1)*pageSize, false)
	searchRequest.SortBy([]string{"-" + types.FieldTimestamp})
	searchRequest.Fields = []string{"*"}
	searchRequest.IncludeLocations = true

	log.FromContext(ctx).Debug("Searching",
		"query", req.Query,
		"chats", req.ChatIDs,
		"attachment", req.Attachment,
		"page", page)

	result, err := e.index.Search(searchRequest)
	if err != nil {
		log.FromContext(ctx).Error("Search failed, degrading to empty result",
			"query", req.Query, "error", err)
		return &types.SearchResult{Hits: []types.SearchHit{}, Page: page, IsLastPage: true}
	}

	hits := make([]types.SearchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		doc := documentFromFields(hit.ID, hit.Fields)
		hits = append(hits, types.SearchHit{
			Document:    doc,
			Highlighted: highlightHit(doc, hit.Locations),
		})
	}

	return &types.SearchResult{
		Hits:       hits,
		TotalHits:  result.Total,
		Page:       page,
		IsLastPage: uint64(page*pageSize) >= result.Total,
	}
}

// buildQuery ANDs the text query with the chat and attachment filters.
// Empty query text matches the whole corpus.
func buildQuery(req types.SearchRequest) query.Query {
	var must []query.Query

	text := strings.TrimSpace(req.Query)
	if text != "" && text != "*" {
		contentQuery := bleve.NewMatchQuery(text)
		contentQuery.SetField(types.FieldContent)
		attachmentQuery := bleve.NewMatchQuery(text)
		attachmentQuery.SetField(types.FieldAttachmentName)
		must = append(must, query.NewDisjunctionQuery([]query.Query{contentQuery, attachmentQuery}))
	}

	if len(req.ChatIDs) > 0 {
		chatQueries := make([]query.Query, 0, len(req.ChatIDs))
		for _, chatID := range req.ChatIDs {
			chatQueries = append(chatQueries, chatTermQuery(chatID))
		}
		must = append(must, query.NewDisjunctionQuery(chatQueries))
	}

	switch req.Attachment {
	case types.AttachmentNone:
		must = append(must, hasAttachmentQuery(0))
	case types.AttachmentOnly:
		must = append(must, hasAttachmentQuery(1))
	}

	if len(must) == 0 {
		return bleve.NewMatchAllQuery()
	}
	if len(must) == 1 {
		return must[0]
	}
	return query.NewConjunctionQuery(must)
}

func hasAttachmentQuery(flag float64) query.Query {
	q := query.NewNumericRangeInclusiveQuery(&flag, &flag, boolPtr(true), boolPtr(true))
	q.SetField(types.FieldHasAttachment)
	return q
}

func boolPtr(b bool) *bool {
	return &b
}
