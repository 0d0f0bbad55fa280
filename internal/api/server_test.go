// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/voxmill/settled/internal/cache"
	"github.com/voxmill/settled/internal/config"
	"github.com/voxmill/settled/internal/dispatch"
	"github.com/voxmill/settled/internal/ledger"
	"github.com/voxmill/settled/internal/pricing"
	"github.com/voxmill/settled/internal/probe"
	"github.com/voxmill/settled/internal/signature"
	"github.com/voxmill/settled/internal/store"
	"github.com/voxmill/settled/internal/types"
)

const (
	testSecret = "test-callback-secret"
	testToken  = "test-api-token"
)

type apiFixture struct {
	server *Server
	store  *store.Store
	ledger *ledger.Ledger
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l, err := ledger.New(s.DB())
	require.NoError(t, err)

	c := cache.NewMemory(0)
	t.Cleanup(func() { _ = c.Close() })

	cfg := config.Default()
	cfg.CallbackSecret = testSecret
	cfg.APIToken = testToken
	cfg.RateLimitRPS = 0 // no limiter in tests

	calc := pricing.NewService(&pricing.StaticSource{Pricing: cfg.Pricing}, c, time.Minute, zerolog.Nop())
	prober := probe.New(nil, probe.Options{Logger: zerolog.Nop(), Schedule: []time.Duration{time.Millisecond}})
	router := dispatch.New(dispatch.Options{
		Store:   s,
		Ledger:  l,
		Pricing: calc,
		Prober:  prober,
		Logger:  zerolog.Nop(),
	})

	return &apiFixture{server: New(cfg, router, s, l), store: s, ledger: l}
}

func (f *apiFixture) postCallback(t *testing.T, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(HeaderSignature, sig)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) seedTask(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	userID, jobID := "user-1", "job_1"

	require.NoError(t, f.store.EnsureMedia(ctx, "media-1"))
	require.NoError(t, f.store.AssignDownloadJob(ctx, "media-1", jobID, "media-downloader"))
	require.NoError(t, f.store.CreateTask(ctx, &store.Task{
		ID:         "t1",
		UserID:     &userID,
		Kind:       types.KindDownload,
		Engine:     types.EngineMediaDownloader,
		TargetType: types.TargetMedia,
		TargetID:   "media-1",
		JobID:      &jobID,
		Status:     types.StatusQueued,
	}))
}

func TestCallbackBadSignatureRejectedWithoutSideEffects(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTask(t)

	body := []byte(`{"jobId":"job_1","mediaId":"media-1","status":"running"}`)

	rec := f.postCallback(t, body, "sha256=deadbeef")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.postCallback(t, body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Zero mutations: the task is untouched and no events were recorded.
	task, err := f.store.TaskByID(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, types.StatusQueued, task.Status)

	events, err := f.store.JobEventsByJobID(context.Background(), "job_1")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestCallbackHappyPath(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTask(t)

	body := []byte(`{"jobId":"job_1","mediaId":"media-1","status":"running","progress":42}`)
	rec := f.postCallback(t, body, signature.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	task, err := f.store.TaskByID(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, task.Status)
	require.Equal(t, 42, task.Progress)
}

func TestCallbackMalformedPayloadIs400(t *testing.T) {
	f := newAPIFixture(t)

	body := []byte(`{"status":"completed"}`) // missing jobId
	rec := f.postCallback(t, body, signature.Sign(testSecret, body))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body = []byte(`{not json`)
	rec = f.postCallback(t, body, signature.Sign(testSecret, body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackUnknownTargetIs404(t *testing.T) {
	f := newAPIFixture(t)

	body := []byte(`{"jobId":"ghost_1","status":"completed"}`)
	rec := f.postCallback(t, body, signature.Sign(testSecret, body))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSystemJobCallbackIs200(t *testing.T) {
	f := newAPIFixture(t)

	body := []byte(`{"jobId":"ping_1","status":"completed","metadata":{"kind":"proxy-health"}}`)
	rec := f.postCallback(t, body, signature.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadEndpointsRequireToken(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTask(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "t1", got.ID)
	require.Equal(t, "download", got.Kind)
}

func TestTasksByJobIDEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTask(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?jobId=job_1", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Tasks []taskResponse `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Tasks, 1)

	// Missing jobId is a validation error, not an empty list.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLedgerEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	_, err := f.ledger.AddOnce(ctx, "user-1", 100, ledger.TxRecharge, "test", "seed", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/user-1/balance", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var balance struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, int64(100), balance.Balance)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ledger/user-1/transactions", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var txs struct {
		Transactions []transactionResponse `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	require.Len(t, txs.Transactions, 1)
	require.Equal(t, int64(100), txs.Transactions[0].Delta)
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
