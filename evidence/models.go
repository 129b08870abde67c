package evidence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeDocument Type = "document"
)

var ErrInvalidItem = errors.New("evidence: invalid item")

// Item is one piece of evidence filed by a party. Only the storage key of an
// uploaded artefact is kept; the bytes live in object storage.
type Item struct {
	ID          string    `json:"id"`
	DisputeID   string    `json:"dispute_id"`
	SubmittedBy string    `json:"submitted_by"`
	Type        Type      `json:"type"`
	Description string    `json:"description"`
	StorageKey  *string   `json:"storage_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the caller-supplied fields.
func (i Item) Validate() error {
	switch i.Type {
	case TypeText:
		if i.StorageKey != nil {
			return fmt.Errorf("%w: text evidence carries no storage key", ErrInvalidItem)
		}
	case TypeImage, TypeDocument:
		if i.StorageKey == nil || strings.TrimSpace(*i.StorageKey) == "" {
			return fmt.Errorf("%w: %s evidence requires a storage key", ErrInvalidItem, i.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidItem, i.Type)
	}
	if strings.TrimSpace(i.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidItem)
	}
	return nil
}
