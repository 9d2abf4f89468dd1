package types

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrEntityNotFound means a chat or message reference could not be
	// resolved by the message source. Never retried automatically.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrWriteLocked means the exclusive write transaction is already held.
	// Recoverable: the caller may retry or drop the event.
	ErrWriteLocked = errors.New("index write transaction already held")

	// ErrEmptyIndex is returned by RandomDocument on a zero-document corpus.
	ErrEmptyIndex = errors.New("index is empty")

	// ErrInvalidFields means a replace call is missing required fields.
	ErrInvalidFields = errors.New("missing required document fields")

	// ErrPolicyRejected means the operation targets an excluded chat.
	ErrPolicyRejected = errors.New("chat is excluded from indexing")
)

// SchemaMismatchError reports a disagreement between the on-disk index
// fields and the expected schema. Fatal at startup; the index must be
// cleared and rebuilt by the operator.
type SchemaMismatchError struct {
	Missing []string
	Extra   []string
}

func (e *SchemaMismatchError) Error() string {
	var sb strings.Builder
	sb.WriteString("incompatible index schema")
	if len(e.Missing) > 0 {
		fmt.Fprintf(&sb, ", missing fields on disk: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&sb, ", unexpected fields on disk: %s", strings.Join(e.Extra, ", "))
	}
	return sb.String()
}
