package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/phigate/phigate/internal/config"
	"github.com/phigate/phigate/internal/domain/profile"
	"github.com/phigate/phigate/internal/domain/release"
	"github.com/phigate/phigate/internal/platform/auth"
	"github.com/phigate/phigate/internal/platform/deid"
	"github.com/phigate/phigate/internal/platform/hipaa"
	"github.com/phigate/phigate/internal/platform/recognizer"
	"github.com/phigate/phigate/internal/platform/verify"
)

const extracted = `{
	"text": "Contact: 555-123-4567, jane@roe.org",
	"pages": [{"page_number": 1, "tables": [{"data": [["MRN: A-991", 12]]}]}]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:               "development",
		Recognizer:        config.RecognizerNone,
		ProfileStore:      config.StoreSQLite,
		SQLitePath:        filepath.Join(t.TempDir(), "phigate.db"),
		DeidOverlapPolicy: "nested",
		DeidConcurrency:   2,
		VerifyPolicy:      "any",
		BodyLimit:         "64K",
		RequestTimeout:    5 * time.Second,
		RateLimitRPS:      100,
		RateLimitBurst:    100,
	}
}

func TestDeidentify(t *testing.T) {
	cfg := testConfig(t)
	rec, err := newRecognizer(cfg, zerolog.Nop())
	require.NoError(t, err)
	walker, err := newWalker(cfg, rec)
	require.NoError(t, err)

	var out bytes.Buffer
	rep, err := deidentify(context.Background(), walker, strings.NewReader(extracted), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Contact: {{PHONE}}, {{EMAIL}}")
	assert.Contains(t, out.String(), `"{{MRN}}"`)
	assert.NotContains(t, out.String(), "555-123-4567")
	assert.Equal(t, 2, rep.Units)
	assert.Equal(t, []string{"555-123-4567"}, rep.Inventory.Values(deid.BucketPhones))
	assert.Equal(t, 1, rep.Detections["MRN"])

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, rep, "yaml"))
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 2, decoded["units"])
	assert.Contains(t, buf.String(), "jane@roe.org")

	_, err = deidentify(context.Background(), walker, strings.NewReader(`"just text"`), &out)
	assert.ErrorIs(t, err, deid.ErrNotObject)
}

// TestServer_EndToEnd drives the full HTTP stack on a temporary SQLite store
// with development auth and pattern rules only.
func TestServer_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	logger := zerolog.Nop()

	store, err := openDatabase(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	_, err = store.migrator().Up(ctx)
	require.NoError(t, err)

	enc, err := hipaa.NewEncryptionService(hipaa.EncryptionConfig{}, logger)
	require.NoError(t, err)
	rec, err := newRecognizer(cfg, logger)
	require.NoError(t, err)
	walker, err := newWalker(cfg, rec)
	require.NoError(t, err)
	verifier, err := verify.New(verify.Config{Policy: verify.PolicyAny})
	require.NoError(t, err)

	profileSvc := profile.NewService(store.profiles(enc))
	releases := store.releases()
	releaseSvc := release.NewService(walker, verifier, profileSvc, logger,
		release.WithAuditSink(releases))
	e := newServer(cfg, logger, store.healthChecks(),
		profile.NewHandler(profileSvc), release.NewHandler(releaseSvc))

	do := func(method, path, body, subject string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if subject != "" {
			req.Header.Set(auth.DevSubjectHeader, subject)
		}
		rr := httptest.NewRecorder()
		e.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// No profile yet.
	rr = do(http.MethodPost, "/api/v1/documents", extracted, "alice")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(http.MethodPut, "/api/v1/profile", `{"email":"jane@roe.org"}`, "alice")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = do(http.MethodPut, "/api/v1/profile", `{"phone":"555-000-0000"}`, "bob")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(http.MethodPost, "/api/v1/documents", extracted, "alice")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "{{EMAIL}}")
	assert.NotContains(t, rr.Body.String(), "jane@roe.org")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = do(http.MethodPost, "/api/v1/documents", extracted, "bob")
	require.Equal(t, http.StatusForbidden, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "{{EMAIL}}")

	rr = do(http.MethodPost, "/api/v1/documents", strings.Repeat("x", 70*1024), "alice")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = do(http.MethodGet, "/api/v1/releases", "", "alice")
	require.Equal(t, http.StatusOK, rr.Code)
	var history struct {
		Releases []hipaa.ReleaseEvent `json:"releases"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	require.Len(t, history.Releases, 2)
	assert.Equal(t, hipaa.OutcomeReleased, history.Releases[0].Outcome)
	assert.True(t, history.Releases[0].EmailMatch)
	assert.Equal(t, hipaa.OutcomeFailed, history.Releases[1].Outcome)

	// Fresh events survive the retention purge.
	retention, err := hipaa.NewRetentionService(releases, hipaa.MinAuditRetention, logger)
	require.NoError(t, err)
	purged, err := retention.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)
	left, err := releases.ListReleases(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestNewRecognizer(t *testing.T) {
	t.Run("missing url is an error", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Recognizer = config.RecognizerSidecar
		_, err := newRecognizer(cfg, zerolog.Nop())
		assert.ErrorContains(t, err, "RECOGNIZER_URL")
	})
	t.Run("pattern-only refused in production", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Env = "production"
		_, err := newRecognizer(cfg, zerolog.Nop())
		assert.ErrorContains(t, err, "only allowed in development")
	})
	t.Run("pattern-only in development", func(t *testing.T) {
		rec, err := newRecognizer(testConfig(t), zerolog.Nop())
		require.NoError(t, err)
		assert.IsType(t, recognizer.Noop{}, rec)
	})
	t.Run("sidecar", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Recognizer = config.RecognizerSidecar
		cfg.RecognizerURL = "http://127.0.0.1:1"
		cfg.RecognizerOffsetUnit = "rune"
		cfg.RecognizerCacheSize = 8
		rec, err := newRecognizer(cfg, zerolog.Nop())
		require.NoError(t, err)
		assert.IsType(t, &recognizer.Cached{}, rec)
	})
}

func TestDeidentifyCmd_RequiresRecognizer(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("RECOGNIZER", "")
	t.Setenv("RECOGNIZER_URL", "")

	dir := t.TempDir()
	in := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(in, []byte(extracted), 0o600))
	out := filepath.Join(dir, "redacted.json")

	cmd := deidentifyCmd()
	cmd.SetArgs([]string{"--in", in, "--out", out})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	require.ErrorContains(t, err, "RECOGNIZER_URL")
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no output may be written without a recognizer")

	cmd = deidentifyCmd()
	cmd.SetArgs([]string{"--in", in, "--out", out, "--no-recognizer"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	require.NoError(t, cmd.Execute())
	redacted, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(redacted), "{{PHONE}}")
	assert.NotContains(t, string(redacted), "555-123-4567")
}
