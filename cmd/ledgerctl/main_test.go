package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchain/internal/checkpoint"
	"github.com/jmerrifield20/docchain/internal/handler"
	"github.com/jmerrifield20/docchain/internal/ledger"
	"github.com/jmerrifield20/docchain/internal/signer"
	"github.com/jmerrifield20/docchain/pkg/client"
)

// writeConfig writes a sqlite-backed config rooted at dir and returns its path.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	cfg := fmt.Sprintf(`store:
  driver: sqlite
  sqlite_path: %[1]s/data/ledger.db
  op_timeout: 2s
  max_retries: 1
signer:
  key_file: %[1]s/keys/signing.key
checkpoint:
  file: %[1]s/data/checkpoint.bin
  key_file: %[1]s/keys/checkpoint.key
  auto_provision: false
%[2]s`, filepath.ToSlash(dir), extra)
	path := filepath.Join(dir, "ledgerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DOCCHAIN_SERVER", "")
	t.Setenv("DOCCHAIN_TOKEN", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLocalLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")

	_, err := run(t, "--config", cfg, "genesis", `{"a":1}`)
	require.Error(t, err, "genesis must fail closed without a signing key")

	out, err := run(t, "--config", cfg, "keygen")
	require.NoError(t, err)
	assert.Contains(t, out, "signing key written")
	assert.Contains(t, out, "checkpoint key written")

	out, err = run(t, "--config", cfg, "keygen")
	require.NoError(t, err)
	assert.Contains(t, out, "(kept)")

	_, err = run(t, "--config", cfg, "genesis", `{"a":1}`)
	require.NoError(t, err)
	out, err = run(t, "--config", cfg, "append", `{"dataType":"invoice","identifier":"INV-1"}`)
	require.NoError(t, err)
	var rec ledger.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, int64(2), rec.Sequence)

	out, err = run(t, "--config", cfg, "list", "--type", "invoice", "--json")
	require.NoError(t, err)
	var recs []client.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID.String(), recs[0].ID)

	out, err = run(t, "--config", cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "INV-1")

	out, err = run(t, "--config", cfg, "get", "latest")
	require.NoError(t, err)
	assert.Contains(t, out, rec.Hash)
	_, err = run(t, "--config", cfg, "get", "nope")
	assert.Error(t, err)

	out, err = run(t, "--config", cfg, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, `"integrity": true`)

	s, err := signer.Load(filepath.Join(dir, "keys", "signing.key"))
	require.NoError(t, err)
	out, err = run(t, "--config", cfg, "audit", "--trusted-key", s.PublicKeyHex())
	require.NoError(t, err)
	assert.Contains(t, out, "chain:      ok (2 records)")
	assert.Contains(t, out, "signatures: ok")

	_, err = run(t, "--config", cfg, "reset", `{"g":1}`)
	require.Error(t, err)
	_, err = run(t, "--config", cfg, "reset", "--yes", `{"g":1}`)
	require.NoError(t, err)
	out, err = run(t, "--config", cfg, "list", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	assert.Len(t, recs, 1)
}

func TestVerify_missingCheckpointExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	_, err := run(t, "--config", cfg, "keygen")
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "genesis", `{"a":1}`)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "data", "checkpoint.bin")))
	out, err := run(t, "--config", cfg, "verify")
	require.ErrorIs(t, err, errCompromised)
	assert.Contains(t, out, string(ledger.KindCacheMissing))
}

func TestToken(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "--config", writeConfig(t, dir, ""), "token")
	assert.Error(t, err, "no secret configured")

	cfg := writeConfig(t, dir, "auth:\n  jwt_secret: 0123456789abcdef0123456789abcdef\n")
	out, err := run(t, "--config", cfg, "token", "--scope", "ledger:write,ledger:read")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(strings.TrimSpace(out), ".")))

	_, err = run(t, "--config", cfg, "token", "--scope", "ledger:everything")
	assert.Error(t, err)
}

func TestRemoteAudit_detectsTampering(t *testing.T) {
	gin.SetMode(gin.TestMode)
	key, err := checkpoint.NewKey()
	require.NoError(t, err)
	s, err := signer.Generate()
	require.NoError(t, err)
	store := ledger.NewMemoryStore()
	l := ledger.New(store, checkpoint.NewMemoryCache(key), s, zap.NewNop(), ledger.WithMaxRetries(1))

	ctx := context.Background()
	_, err = l.Genesis(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	_, err = l.Append(ctx, []byte(`{"b":2}`))
	require.NoError(t, err)

	r := gin.New()
	handler.NewLedgerHandler(l, nil, zap.NewNop()).Register(r.Group("/api/v1"))
	srv := httptest.NewServer(r)
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "audit", "--trusted-key", s.PublicKeyHex())
	require.NoError(t, err, out)

	other, err := signer.Generate()
	require.NoError(t, err)
	out, err = run(t, "--server", srv.URL, "audit", "--trusted-key", other.PublicKeyHex())
	require.ErrorIs(t, err, errCompromised)
	assert.Contains(t, out, "signed by an untrusted key")

	out, err = run(t, "--server", srv.URL, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, `"records": 2`)
}

func TestReadDocument(t *testing.T) {
	doc, err := readDocument(strings.NewReader(`{"x":1}`), nil, "-")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(doc))

	_, err = readDocument(nil, []string{`{"x":1}`}, "file.json")
	assert.Error(t, err)
	_, err = readDocument(nil, nil, "")
	assert.Error(t, err)
	_, err = readDocument(nil, []string{`{"x":`}, "")
	assert.Error(t, err)
}
