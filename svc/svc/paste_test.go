package svc

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pastebox/cfg"
	"pastebox/pkg/domain"
	"pastebox/svc/cache"
	"pastebox/svc/crypt"
	"pastebox/svc/db"
)

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Environment:       "development",
		LogLevel:          "error",
		LRUCacheSize:      100,
		Argon2Time:        1,
		Argon2Memory:      8 * 1024,
		Argon2Parallelism: 1,
		Argon2KeyLen:      32,
		MaxPasteSize:      64 * 1024,
		ListLimit:         100,
		CacheTTL:          time.Minute,
	}
}

func newTestEngine(t *testing.T) (*Paste, *db.SQLite) {
	t.Helper()
	c := testCfg()
	sqlDB, err := db.NewSQLite(filepath.Join(t.TempDir(), "pastes.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	lru, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		t.Fatalf("NewLRU failed: %v", err)
	}
	cipher, err := crypt.NewCipher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallelism, c.Argon2KeyLen)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	return NewPaste(sqlDB, lru, nil, cipher, c), sqlDB
}

func TestCreateAndGet(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{Content: "hello world", Language: "go"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(created.ID) != 8 {
		t.Errorf("id length = %d, want 8", len(created.ID))
	}
	if created.Content != "hello world" {
		t.Errorf("create response content = %q", created.Content)
	}
	if created.Views != 0 {
		t.Errorf("fresh paste views = %d", created.Views)
	}

	got, err := engine.Get(ctx, created.ID, "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "hello world" || got.Language != "go" {
		t.Errorf("got %+v", got)
	}
	if got.Views != 1 {
		t.Errorf("views after first read = %d, want 1", got.Views)
	}
}

func TestCreateDefaultLanguage(t *testing.T) {
	engine, _ := newTestEngine(t)
	created, err := engine.Create(context.Background(), domain.CreateParams{Content: "no language"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Language != domain.DefaultLanguage {
		t.Errorf("language = %q, want %q", created.Language, domain.DefaultLanguage)
	}
}

func TestCreateEmptyContent(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{Content: ""})
	if err != nil {
		t.Fatalf("Create with empty content failed: %v", err)
	}
	got, err := engine.Get(ctx, created.ID, "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "" {
		t.Errorf("content = %q, want empty", got.Content)
	}
}

func TestCreateTooLarge(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Create(context.Background(), domain.CreateParams{
		Content: strings.Repeat("x", 64*1024+1),
	})
	if err != domain.ErrPasteTooLarge {
		t.Errorf("got err %v, want ErrPasteTooLarge", err)
	}
}

func TestViewCountMonotonic(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{Content: "counted"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for want := 1; want <= 7; want++ {
		got, err := engine.Get(ctx, created.ID, "")
		if err != nil {
			t.Fatalf("Get %d failed: %v", want, err)
		}
		if got.Views != want {
			t.Errorf("views = %d, want %d", got.Views, want)
		}
	}
}

func TestEncryptedPasteLifecycle(t *testing.T) {
	engine, sqlDB := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{
		Content:  "top secret",
		Password: "hunter2",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Content != "top secret" {
		t.Errorf("create response leaked ciphertext: %q", created.Content)
	}
	if !created.IsEncrypted {
		t.Error("IsEncrypted not set")
	}

	// the stored row must hold ciphertext, never the plaintext
	stored, err := sqlDB.GetLive(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetLive failed: %v", err)
	}
	if stored.Content == "top secret" {
		t.Error("plaintext reached the store")
	}
	if stored.Views != 0 {
		t.Errorf("stored views = %d before any read", stored.Views)
	}

	// missing and wrong passwords are rejected without advancing the counter
	if _, err := engine.Get(ctx, created.ID, ""); err != domain.ErrPasswordRequired {
		t.Errorf("no password: got err %v, want ErrPasswordRequired", err)
	}
	if _, err := engine.Get(ctx, created.ID, "wrong"); err != domain.ErrInvalidPassword {
		t.Errorf("wrong password: got err %v, want ErrInvalidPassword", err)
	}
	stored, err = sqlDB.GetLive(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetLive failed: %v", err)
	}
	if stored.Views != 0 {
		t.Errorf("failed reads advanced the counter to %d", stored.Views)
	}

	got, err := engine.Get(ctx, created.ID, "hunter2")
	if err != nil {
		t.Fatalf("Get with password failed: %v", err)
	}
	if got.Content != "top secret" {
		t.Errorf("decrypted content = %q", got.Content)
	}
	if got.Views != 1 {
		t.Errorf("views = %d, want 1", got.Views)
	}
}

func TestBurnAfterReadOnce(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{
		Content:       "read me once",
		BurnAfterRead: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := engine.Get(ctx, created.ID, "")
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	if got.Content != "read me once" {
		t.Errorf("content = %q", got.Content)
	}
	if _, err := engine.Get(ctx, created.ID, ""); err != domain.ErrPasteNotFound {
		t.Errorf("second Get: got err %v, want ErrPasteNotFound", err)
	}
	if _, err := engine.Preview(ctx, created.ID); err != domain.ErrPasteNotFound {
		t.Errorf("preview after burn: got err %v, want ErrPasteNotFound", err)
	}
}

func TestBurnEncryptedWrongPasswordDoesNotBurn(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{
		Content:       "fragile",
		BurnAfterRead: true,
		Password:      "pw",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Get(ctx, created.ID, "nope"); err != domain.ErrInvalidPassword {
		t.Fatalf("wrong password: got err %v", err)
	}
	// failed decrypt must not have consumed the single read
	got, err := engine.Get(ctx, created.ID, "pw")
	if err != nil {
		t.Fatalf("Get after failed attempt: %v", err)
	}
	if got.Content != "fragile" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestExpiredImmediately(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	expiresIn := -1 * time.Millisecond
	created, err := engine.Create(ctx, domain.CreateParams{
		Content:   "born dead",
		ExpiresIn: &expiresIn,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Get(ctx, created.ID, ""); err != domain.ErrPasteNotFound {
		t.Errorf("Get: got err %v, want ErrPasteNotFound", err)
	}
	if _, err := engine.Preview(ctx, created.ID); err != domain.ErrPasteNotFound {
		t.Errorf("Preview: got err %v, want ErrPasteNotFound", err)
	}
	summaries, err := engine.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, s := range summaries {
		if s.ID == created.ID {
			t.Error("expired paste appeared in listing")
		}
	}
}

func TestExpiryHonored(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	expiresIn := 50 * time.Millisecond
	created, err := engine.Create(ctx, domain.CreateParams{
		Content:   "short lived",
		ExpiresIn: &expiresIn,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Get(ctx, created.ID, ""); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := engine.Get(ctx, created.ID, ""); err != domain.ErrPasteNotFound {
		t.Errorf("Get after expiry: got err %v, want ErrPasteNotFound", err)
	}
}

func TestDeleteIdempotence(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{Content: "doomed"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := engine.Delete(ctx, created.ID); err != nil {
		t.Fatalf("first Delete failed: %v", err)
	}
	if err := engine.Delete(ctx, created.ID); err != domain.ErrPasteNotFound {
		t.Errorf("second Delete: got err %v, want ErrPasteNotFound", err)
	}
	if _, err := engine.Get(ctx, created.ID, ""); err != domain.ErrPasteNotFound {
		t.Errorf("Get after delete: got err %v, want ErrPasteNotFound", err)
	}
}

func TestDeleteExpiredPaste(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	expiresIn := -1 * time.Second
	created, err := engine.Create(ctx, domain.CreateParams{
		Content:   "expired but deletable",
		ExpiresIn: &expiresIn,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := engine.Delete(ctx, created.ID); err != nil {
		t.Errorf("Delete of expired paste failed: %v", err)
	}
}

func TestDeleteUnknown(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.Delete(context.Background(), "00000000"); err != domain.ErrPasteNotFound {
		t.Errorf("got err %v, want ErrPasteNotFound", err)
	}
}

func TestPreviewDoesNotCountViews(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{Content: strings.Repeat("z", 150)})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		sum, err := engine.Preview(ctx, created.ID)
		if err != nil {
			t.Fatalf("Preview failed: %v", err)
		}
		if sum.Views != 0 {
			t.Errorf("preview views = %d, want 0", sum.Views)
		}
		want := strings.Repeat("z", 100) + domain.PreviewEllipsis
		if sum.Content != want {
			t.Errorf("preview content = %q", sum.Content)
		}
	}
	got, err := engine.Get(ctx, created.ID, "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Views != 1 {
		t.Errorf("views = %d after previews plus one read, want 1", got.Views)
	}
}

func TestPreviewBurnPasteSurvives(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{
		Content:       "still here",
		BurnAfterRead: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Preview(ctx, created.ID); err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	// previews never trigger the burn
	if _, err := engine.Get(ctx, created.ID, ""); err != nil {
		t.Errorf("Get after preview failed: %v", err)
	}
}

func TestPreviewEncryptedPlaceholder(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{
		Content:  "classified",
		Password: "pw",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sum, err := engine.Preview(ctx, created.ID)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if sum.Content != domain.EncryptedPlaceholder {
		t.Errorf("preview content = %q, want placeholder", sum.Content)
	}
}

func TestListIncludesPrivate(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	pub, err := engine.Create(ctx, domain.CreateParams{Content: "public"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	priv, err := engine.Create(ctx, domain.CreateParams{Content: "private", IsPrivate: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	summaries, err := engine.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	found := map[string]bool{}
	for _, s := range summaries {
		found[s.ID] = s.IsPrivate
	}
	if _, ok := found[pub.ID]; !ok {
		t.Error("public paste missing from listing")
	}
	isPriv, ok := found[priv.ID]
	if !ok {
		t.Error("private paste missing from listing")
	} else if !isPriv {
		t.Error("is_private flag lost in listing")
	}
}

func TestGetUnknown(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.Get(context.Background(), "ffffffff", ""); err != domain.ErrPasteNotFound {
		t.Errorf("got err %v, want ErrPasteNotFound", err)
	}
}

func TestBurnRaceSingleWinner(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{
		Content:       "contested",
		BurnAfterRead: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	const readers = 16
	var wg sync.WaitGroup
	var wins atomic.Int32
	start := make(chan struct{})
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, err := engine.Get(ctx, created.ID, "")
			if err == nil {
				if got.Content != "contested" {
					t.Errorf("winner saw %q", got.Content)
				}
				wins.Add(1)
			} else if err != domain.ErrPasteNotFound {
				t.Errorf("loser got %v, want ErrPasteNotFound", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("%d readers received content, want exactly 1", wins.Load())
	}
}

func TestConcurrentViewCount(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{Content: "popular"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	const readers = 20
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Get(ctx, created.ID, ""); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}
	wg.Wait()
	got, err := engine.Get(ctx, created.ID, "")
	if err != nil {
		t.Fatalf("final Get failed: %v", err)
	}
	if got.Views != readers+1 {
		t.Errorf("views = %d, want %d", got.Views, readers+1)
	}
}

func TestCachedReadSurvivesColdCache(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.Create(ctx, domain.CreateParams{Content: "warm then cold"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// first read comes from the create-time cache entry
	if _, err := engine.Get(ctx, created.ID, ""); err != nil {
		t.Fatalf("warm Get failed: %v", err)
	}
	engine.lru.Delete(created.ID)
	got, err := engine.Get(ctx, created.ID, "")
	if err != nil {
		t.Fatalf("cold Get failed: %v", err)
	}
	if got.Views != 2 {
		t.Errorf("views = %d, want 2", got.Views)
	}
}
