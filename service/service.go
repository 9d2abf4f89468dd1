// Package service is the read-side façade: validated search pass-through
// and the status report. It never mutates the index.
package service

import (
	"context"
	"fmt"

	"github.com/arclbx/tgindex/engine"
	"github.com/arclbx/tgindex/monitor"
	"github.com/arclbx/tgindex/types"
)

const maxPageSize = 50

type Service struct {
	eng   *engine.Engine
	state *monitor.State
}

func New(eng *engine.Engine, state *monitor.State) *Service {
	return &Service{eng: eng, state: state}
}

// Search validates the request and hands it to the engine. Validation
// failures are caller errors; engine-side failures never surface here, the
// engine already degrades them to an empty result.
func (s *Service) Search(ctx context.Context, req types.SearchRequest) (*types.SearchResult, error) {
	if !req.Attachment.Valid() {
		return nil, fmt.Errorf("unknown attachment filter %q: %w", req.Attachment, types.ErrInvalidFields)
	}
	if req.Page < 0 || req.PageSize < 0 {
		return nil, fmt.Errorf("page and page_size must be positive: %w", types.ErrInvalidFields)
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}
	for i, chatID := range req.ChatIDs {
		req.ChatIDs[i] = types.ShareID(chatID)
	}
	return s.eng.Search(ctx, req), nil
}

// RandomDocument returns one uniformly selected indexed document.
func (s *Service) RandomDocument(ctx context.Context) (*types.Document, error) {
	return s.eng.RandomDocument(ctx)
}
