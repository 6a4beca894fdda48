package domain

import (
	"time"
)

const (
	// DefaultLanguage is the display hint applied when a create request
	// does not name one.
	DefaultLanguage = "plain"

	// PreviewLength is the maximum number of characters of content surfaced
	// by summaries and listings.
	PreviewLength = 100

	// PreviewEllipsis marks truncated summary content.
	PreviewEllipsis = "..."

	// EncryptedPlaceholder replaces summary content entirely when the paste
	// is encrypted. Previews never touch ciphertext or plaintext.
	EncryptedPlaceholder = "[encrypted]"
)

// Paste is the stored entity. Content holds plaintext or, when IsEncrypted
// is set, the self-describing ciphertext produced by svc/crypt. Everything
// except Views and Deleted is fixed at creation.
type Paste struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Language      string    `json:"language"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	BurnAfterRead bool      `json:"burn_after_read"`
	IsPrivate     bool      `json:"is_private"`
	IsEncrypted   bool      `json:"is_encrypted"`
	Views         int       `json:"views"`
	Deleted       bool      `json:"-"`
}

// HasExpiry reports whether the paste expires at all. A zero ExpiresAt
// means "never", stored as NULL.
func (p *Paste) HasExpiry() bool {
	return !p.ExpiresAt.IsZero()
}

// Live reports whether the paste is visible to any read path at the given
// instant: not soft-deleted and not past its expiry.
func (p *Paste) Live(now time.Time) bool {
	if p.Deleted {
		return false
	}
	if !p.HasExpiry() {
		return true
	}
	return p.ExpiresAt.After(now)
}

// Summary is the preview/listing projection of a paste: same metadata,
// content truncated or replaced by the encrypted placeholder.
type Summary struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Language      string    `json:"language"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	BurnAfterRead bool      `json:"burn_after_read"`
	IsPrivate     bool      `json:"is_private"`
	IsEncrypted   bool      `json:"is_encrypted"`
	Views         int       `json:"views"`
}

// Summarize projects a stored paste into its summary form. Encrypted content
// is never echoed, not even truncated; plaintext is capped at PreviewLength
// characters (runes, so multi-byte content is not split) with an ellipsis.
func Summarize(p *Paste) Summary {
	s := Summary{
		ID:            p.ID,
		Language:      p.Language,
		CreatedAt:     p.CreatedAt,
		ExpiresAt:     p.ExpiresAt,
		BurnAfterRead: p.BurnAfterRead,
		IsPrivate:     p.IsPrivate,
		IsEncrypted:   p.IsEncrypted,
		Views:         p.Views,
	}
	if p.IsEncrypted {
		s.Content = EncryptedPlaceholder
		return s
	}
	runes := []rune(p.Content)
	if len(runes) > PreviewLength {
		s.Content = string(runes[:PreviewLength]) + PreviewEllipsis
	} else {
		s.Content = p.Content
	}
	return s
}

// CreateParams carries the engine-level inputs of a create operation.
// ExpiresIn nil means the paste never expires; negative offsets are accepted
// and produce an already-expired paste.
type CreateParams struct {
	Content       string
	Language      string
	ExpiresIn     *time.Duration
	BurnAfterRead bool
	IsPrivate     bool
	Password      string
}
