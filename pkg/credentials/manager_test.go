package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
)

func setupTestManager(t *testing.T) (*Manager, stores.Store) {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cipher, err := NewCipher("test-master-passphrase")
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	return NewManager(store, cipher, logger, metrics), store
}

func TestSaveAndDecrypt(t *testing.T) {
	mgr, _ := setupTestManager(t)
	ctx := context.Background()

	payload := Payload{"host": "db.example.com", "password": "hunter2"}
	cred, err := mgr.Save(ctx, "alice", "postgres", "staging-db", payload, []string{"db"}, true)
	if err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}
	if cred.UsageCount != 0 {
		t.Errorf("new credential should have zero usage, got %d", cred.UsageCount)
	}

	got, err := mgr.Decrypt(ctx, "alice", cred.ID)
	if err != nil {
		t.Fatalf("failed to decrypt credential: %v", err)
	}
	if got["password"] != "hunter2" {
		t.Errorf("unexpected payload: %v", got)
	}

	// Decrypt counts usage
	meta, err := mgr.Get(ctx, "alice", cred.ID)
	if err != nil {
		t.Fatalf("failed to get credential: %v", err)
	}
	if meta.UsageCount != 1 {
		t.Errorf("expected usage count 1 after decrypt, got %d", meta.UsageCount)
	}
	if meta.LastUsedAt == nil {
		t.Error("expected last_used_at after decrypt")
	}
}

func TestDecryptAccessControl(t *testing.T) {
	mgr, _ := setupTestManager(t)
	ctx := context.Background()

	cred, err := mgr.Save(ctx, "alice", "redis", "cache", Payload{"password": "s3cret"}, nil, true)
	if err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}

	if _, err := mgr.Decrypt(ctx, "mallory", cred.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for non-owner, got %v", err)
	}

	// Sharing grants decrypt access
	if err := mgr.Share(ctx, "alice", cred.ID, "bob"); err != nil {
		t.Fatalf("failed to share credential: %v", err)
	}
	if _, err := mgr.Decrypt(ctx, "bob", cred.ID); err != nil {
		t.Errorf("expected shared user to decrypt, got %v", err)
	}

	// Only the owner can share
	if err := mgr.Share(ctx, "bob", cred.ID, "mallory"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied when non-owner shares, got %v", err)
	}
}

func TestListNeverDecrypts(t *testing.T) {
	mgr, _ := setupTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Save(ctx, "alice", "postgres", "db", Payload{"password": "x"}, nil, true); err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}

	creds, err := mgr.List(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to list credentials: %v", err)
	}
	if len(creds) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(creds))
	}
	if creds[0].UsageCount != 0 {
		t.Errorf("list must not count as usage, got %d", creds[0].UsageCount)
	}
}

func TestRotate(t *testing.T) {
	mgr, _ := setupTestManager(t)
	ctx := context.Background()

	cred, err := mgr.Save(ctx, "alice", "postgres", "db", Payload{"password": "old"}, nil, true)
	if err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}

	if err := mgr.Rotate(ctx, "alice", cred.ID, Payload{"password": "new"}); err != nil {
		t.Fatalf("failed to rotate credential: %v", err)
	}

	got, err := mgr.Decrypt(ctx, "alice", cred.ID)
	if err != nil {
		t.Fatalf("failed to decrypt credential: %v", err)
	}
	if got["password"] != "new" {
		t.Errorf("expected rotated payload, got %v", got)
	}
}

func TestFindReusable(t *testing.T) {
	mgr, _ := setupTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Save(ctx, "alice", "postgres", "db", Payload{"password": "x"}, nil, false); err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}
	if _, err := mgr.FindReusable(ctx, "alice", "postgres"); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("expected ErrNotFound for non-reusable credential, got %v", err)
	}

	saved, err := mgr.Save(ctx, "alice", "postgres", "db2", Payload{"password": "y"}, nil, true)
	if err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}
	found, err := mgr.FindReusable(ctx, "alice", "postgres")
	if err != nil {
		t.Fatalf("failed to find reusable credential: %v", err)
	}
	if found.ID != saved.ID {
		t.Errorf("expected %s, got %s", saved.ID, found.ID)
	}
}

func TestDelete(t *testing.T) {
	mgr, _ := setupTestManager(t)
	ctx := context.Background()

	cred, err := mgr.Save(ctx, "alice", "postgres", "db", Payload{"password": "x"}, nil, true)
	if err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}

	if err := mgr.Delete(ctx, "bob", cred.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for non-owner delete, got %v", err)
	}
	if err := mgr.Delete(ctx, "alice", cred.ID); err != nil {
		t.Fatalf("failed to delete credential: %v", err)
	}
	if _, err := mgr.Get(ctx, "alice", cred.ID); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCipherRoundTrip(t *testing.T) {
	cipher, err := NewCipher("passphrase")
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}

	sealed, err := cipher.Seal([]byte(`{"password":"secret"}`))
	if err != nil {
		t.Fatalf("failed to seal: %v", err)
	}

	opened, err := cipher.Open(sealed)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if string(opened) != `{"password":"secret"}` {
		t.Errorf("round trip mismatch: %s", opened)
	}

	// Wrong passphrase fails authentication
	other, err := NewCipher("different")
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Error("expected wrong passphrase to fail")
	}

	// Tampering fails authentication
	sealed[len(sealed)-1] ^= 0xff
	if _, err := cipher.Open(sealed); err == nil {
		t.Error("expected tampered ciphertext to fail")
	}
}

func TestRedaction(t *testing.T) {
	fields := map[string]string{
		"host":           "db.example.com",
		"password":       "hunter2",
		"api_key":        "abc",
		"keyspace":       "main",
		"AuthToken":      "xyz",
		"ssh_key":        "-----BEGIN",
		"access_key":     "AKIA",
		"encryption-key": "enc",
		"key":            "bare",
	}
	redacted := RedactValues(fields)
	if redacted["host"] != "db.example.com" {
		t.Errorf("host should pass through, got %s", redacted["host"])
	}
	if redacted["keyspace"] != "main" {
		t.Errorf("keyspace should pass through, got %s", redacted["keyspace"])
	}
	for _, k := range []string{"password", "api_key", "AuthToken", "ssh_key", "access_key", "encryption-key", "key"} {
		if redacted[k] != RedactedPlaceholder {
			t.Errorf("%s should be redacted, got %s", k, redacted[k])
		}
	}

	nested := map[string]interface{}{
		"config": map[string]interface{}{
			"secret": "s",
			"port":   5432.0,
		},
	}
	out := RedactAny(nested).(map[string]interface{})
	inner := out["config"].(map[string]interface{})
	if inner["secret"] != RedactedPlaceholder {
		t.Errorf("nested secret should be redacted, got %v", inner["secret"])
	}
	if inner["port"] != 5432.0 {
		t.Errorf("nested port should pass through, got %v", inner["port"])
	}
}
