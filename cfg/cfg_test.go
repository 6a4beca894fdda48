package cfg

import (
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

func TestMain(m *testing.M) {
	godotenv.Load()
	os.Exit(m.Run())
}

func validCfg() *Cfg {
	return &Cfg{
		Port:              "8080",
		Environment:       "development",
		DatabasePath:      "test.db",
		LRUCacheSize:      100,
		Argon2Time:        2,
		Argon2Memory:      64 * 1024,
		Argon2Parallelism: 2,
		Argon2KeyLen:      32,
		RateLimit:         RateLimitCfg{RPM: 60, Burst: 10},
		MaxPasteSize:      64 * 1024,
		ListLimit:         100,
		PurgeInterval:     10 * time.Minute,
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Port != "8080" {
		t.Errorf("Port = %q", c.Port)
	}
	if c.MaxPasteSize != 64*1024 {
		t.Errorf("MaxPasteSize = %d", c.MaxPasteSize)
	}
	if c.ListLimit != 100 {
		t.Errorf("ListLimit = %d", c.ListLimit)
	}
	if c.Argon2KeyLen != 32 {
		t.Errorf("Argon2KeyLen = %d", c.Argon2KeyLen)
	}
	if err := Validate(c); err != nil {
		t.Errorf("defaults fail validation: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_PASTE_SIZE", "1024")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1, 192.168.0.0/16")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Port != "9090" {
		t.Errorf("Port = %q", c.Port)
	}
	if c.MaxPasteSize != 1024 {
		t.Errorf("MaxPasteSize = %d", c.MaxPasteSize)
	}
	if c.CacheTTL != 30*time.Second {
		t.Errorf("CacheTTL = %v", c.CacheTTL)
	}
	if len(c.TrustedProxies) != 2 || c.TrustedProxies[0] != "10.0.0.1" {
		t.Errorf("TrustedProxies = %v", c.TrustedProxies)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("LRU_CACHE_SIZE", "not a number")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric LRU_CACHE_SIZE")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Cfg)
	}{
		{"empty port", func(c *Cfg) { c.Port = "" }},
		{"non-numeric port", func(c *Cfg) { c.Port = "abc" }},
		{"empty db path", func(c *Cfg) { c.DatabasePath = "" }},
		{"bad redis scheme", func(c *Cfg) { c.RedisURL = "http://localhost" }},
		{"rediss without tls", func(c *Cfg) { c.RedisURL = "rediss://localhost"; c.RedisTLS = false }},
		{"zero cache size", func(c *Cfg) { c.LRUCacheSize = 0 }},
		{"argon time zero", func(c *Cfg) { c.Argon2Time = 0 }},
		{"argon memory low", func(c *Cfg) { c.Argon2Memory = 1024 }},
		{"argon keylen wrong", func(c *Cfg) { c.Argon2KeyLen = 16 }},
		{"rpm zero", func(c *Cfg) { c.RateLimit.RPM = 0 }},
		{"paste size zero", func(c *Cfg) { c.MaxPasteSize = 0 }},
		{"paste size huge", func(c *Cfg) { c.MaxPasteSize = 20 * 1024 * 1024 }},
		{"list limit zero", func(c *Cfg) { c.ListLimit = 0 }},
		{"list limit huge", func(c *Cfg) { c.ListLimit = 5000 }},
		{"purge interval short", func(c *Cfg) { c.PurgeInterval = time.Second }},
		{"bad proxy ip", func(c *Cfg) { c.TrustedProxies = []string{"not-an-ip"} }},
		{"bad proxy cidr", func(c *Cfg) { c.TrustedProxies = []string{"10.0.0.0/99"} }},
		{"prod without metrics auth", func(c *Cfg) { c.Environment = "production" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCfg()
			tc.mutate(c)
			if err := Validate(c); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	c := validCfg()
	c.RedisURL = "redis://localhost:6379"
	c.TrustedProxies = []string{"10.0.0.1", "192.168.0.0/16"}
	if err := Validate(c); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	c.Environment = "production"
	c.MetricsUser = "ops"
	c.MetricsPass = NewSecret("s3cret")
	if err := Validate(c); err != nil {
		t.Errorf("valid production config rejected: %v", err)
	}
}

func TestSecretRedaction(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() != "***REDACTED***" {
		t.Errorf("String() leaked: %q", s.String())
	}
	if s.Value() != "hunter2" {
		t.Errorf("Value() = %q", s.Value())
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Error("Wipe left the secret intact")
	}
}
