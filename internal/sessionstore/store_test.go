package sessionstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	dbmodel "taskpilot/cli/internal/db"

	"gorm.io/gorm"
)

func openTestStore(t *testing.T) (*Store, *gorm.DB, string) {
	t.Helper()
	dir := t.TempDir()
	gdb, err := dbmodel.Open(filepath.Join(dir, "taskpilot.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dbmodel.Close(gdb) })
	secretPath := filepath.Join(dir, ".taskpilot-session-secret")
	st, err := NewStore(gdb, secretPath)
	if err != nil {
		t.Fatal(err)
	}
	return st, gdb, secretPath
}

func TestStore_SaveAndLoad_EncryptsCredential(t *testing.T) {
	st, _, _ := openTestStore(t)

	in := Snapshot{AccessToken: "jwt-abc-123", Identity: json.RawMessage(`{"id":"u1","username":"ada"}`)}
	if err := st.Save(in); err != nil {
		t.Fatal(err)
	}
	got, ok, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected snapshot present")
	}
	if got.AccessToken != "jwt-abc-123" {
		t.Fatalf("want decrypted token, got %q", got.AccessToken)
	}
	if got.TokenType != "Bearer" {
		t.Fatalf("token type should default to Bearer, got %q", got.TokenType)
	}
	if string(got.Identity) != `{"id":"u1","username":"ada"}` {
		t.Fatalf("unexpected identity: %s", got.Identity)
	}

	raw, present, err := st.rawValue(keyAccessTokenEnc)
	if err != nil || !present {
		t.Fatalf("raw credential missing: present=%v err=%v", present, err)
	}
	if strings.Contains(raw, "jwt-abc-123") {
		t.Fatal("credential stored in plaintext")
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	st, _, _ := openTestStore(t)
	_, ok, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no snapshot on fresh store")
	}
}

func TestStore_Clear(t *testing.T) {
	st, _, _ := openTestStore(t)
	if err := st.Save(Snapshot{AccessToken: "t", Identity: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if err := st.Clear(); err != nil {
		t.Fatal(err)
	}
	_, ok, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected snapshot cleared")
	}
}

func TestStore_HalfWrittenSnapshotIsAbsent(t *testing.T) {
	st, gdb, _ := openTestStore(t)
	if err := upsertValue(gdb, keyIdentityJSON, `{"id":"u1"}`); err != nil {
		t.Fatal(err)
	}
	_, ok, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("identity without credential must not load")
	}
}

func TestStore_RejectsInvalidSnapshot(t *testing.T) {
	st, _, _ := openTestStore(t)
	if err := st.Save(Snapshot{AccessToken: " ", Identity: json.RawMessage(`{}`)}); err == nil {
		t.Fatal("expected error for empty token")
	}
	if err := st.Save(Snapshot{AccessToken: "t", Identity: json.RawMessage(`{nope`)}); err == nil {
		t.Fatal("expected error for invalid identity json")
	}
}

func TestStore_SecretKeyReusedAcrossStores(t *testing.T) {
	st, gdb, secretPath := openTestStore(t)
	if err := st.Save(Snapshot{AccessToken: "persisted", Identity: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(secretPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("secret should be 0600, got %v", info.Mode().Perm())
	}

	again, err := NewStore(gdb, secretPath)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := again.Load()
	if err != nil || !ok {
		t.Fatalf("reload failed: ok=%v err=%v", ok, err)
	}
	if got.AccessToken != "persisted" {
		t.Fatalf("unexpected token: %q", got.AccessToken)
	}
}

func TestNewStore_RejectsCorruptSecret(t *testing.T) {
	dir := t.TempDir()
	gdb, err := dbmodel.Open(filepath.Join(dir, "taskpilot.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dbmodel.Close(gdb) })
	secretPath := filepath.Join(dir, "secret")
	if err := os.WriteFile(secretPath, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(gdb, secretPath); err == nil {
		t.Fatal("expected invalid secret size error")
	}
}
