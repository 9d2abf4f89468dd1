package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/arclbx/tgindex/types"
)

type SearchByPostRequest struct {
	Query      string  `json:"query"`
	ChatIDs    []int64 `json:"chat_ids,omitempty"`
	Attachment string  `json:"attachment,omitempty" validate:"omitempty,oneof=all text_only attachment_only"`
	Page       int     `json:"page" validate:"omitempty,min=1"`
	PageSize   int     `json:"page_size" validate:"omitempty,min=1,max=50"`
}

type BackfillRequest struct {
	Chat  string `json:"chat" validate:"required"`
	MinID int    `json:"min_id" validate:"omitempty,min=0"`
	MaxID int    `json:"max_id" validate:"omitempty,min=0"`
}

// httpError maps the domain error taxonomy onto HTTP status codes.
func httpError(err error) *fiber.Error {
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidFields):
		code = fiber.StatusBadRequest
	case errors.Is(err, types.ErrEntityNotFound), errors.Is(err, types.ErrEmptyIndex):
		code = fiber.StatusNotFound
	case errors.Is(err, types.ErrPolicyRejected):
		code = fiber.StatusForbidden
	case errors.Is(err, types.ErrWriteLocked):
		code = fiber.StatusConflict
	}
	return &fiber.Error{Code: code, Message: err.Error()}
}
