package domain

import (
	"strings"
	"testing"
	"time"
)

func TestSummarizeTruncation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "hello", "hello"},
		{"exactly 100", strings.Repeat("a", 100), strings.Repeat("a", 100)},
		{"150 chars", strings.Repeat("b", 150), strings.Repeat("b", 100) + "..."},
		{"101 chars", strings.Repeat("c", 101), strings.Repeat("c", 100) + "..."},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Summarize(&Paste{ID: "abcd1234", Content: tc.content})
			if s.Content != tc.want {
				t.Errorf("summary content = %q, want %q", s.Content, tc.want)
			}
		})
	}
}

func TestSummarizeMultibyteContent(t *testing.T) {
	content := strings.Repeat("é", 150)
	s := Summarize(&Paste{Content: content})
	want := strings.Repeat("é", 100) + PreviewEllipsis
	if s.Content != want {
		t.Errorf("multibyte truncation split a rune: got %q", s.Content)
	}
}

func TestSummarizeEncrypted(t *testing.T) {
	s := Summarize(&Paste{
		ID:          "abcd1234",
		Content:     "c2FsdG5vbmNlY2lwaGVydGV4dA",
		IsEncrypted: true,
	})
	if s.Content != EncryptedPlaceholder {
		t.Errorf("encrypted summary content = %q, want %q", s.Content, EncryptedPlaceholder)
	}
}

func TestSummarizeCarriesMetadata(t *testing.T) {
	now := time.Now().UTC()
	p := &Paste{
		ID:            "abcd1234",
		Content:       "body",
		Language:      "go",
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
		BurnAfterRead: true,
		IsPrivate:     true,
		Views:         7,
	}
	s := Summarize(p)
	if s.ID != p.ID || s.Language != p.Language || !s.CreatedAt.Equal(p.CreatedAt) ||
		!s.ExpiresAt.Equal(p.ExpiresAt) || !s.BurnAfterRead || !s.IsPrivate || s.Views != 7 {
		t.Errorf("summary dropped metadata: %+v", s)
	}
}

func TestLive(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name  string
		paste Paste
		want  bool
	}{
		{"no expiry", Paste{}, true},
		{"future expiry", Paste{ExpiresAt: now.Add(time.Minute)}, true},
		{"past expiry", Paste{ExpiresAt: now.Add(-time.Minute)}, false},
		{"deleted", Paste{Deleted: true}, false},
		{"deleted with future expiry", Paste{Deleted: true, ExpiresAt: now.Add(time.Minute)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.paste.Live(now); got != tc.want {
				t.Errorf("Live = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasExpiry(t *testing.T) {
	if (&Paste{}).HasExpiry() {
		t.Error("zero ExpiresAt reported as having expiry")
	}
	if !(&Paste{ExpiresAt: time.Now()}).HasExpiry() {
		t.Error("set ExpiresAt reported as never expiring")
	}
}
