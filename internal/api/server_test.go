package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openbuilders/pix-bridge/internal/health"
	"github.com/openbuilders/pix-bridge/internal/reconcile"
	"github.com/openbuilders/pix-bridge/internal/repository"
	"github.com/openbuilders/pix-bridge/internal/repository/memory"
	"github.com/openbuilders/pix-bridge/internal/types"
	"github.com/openbuilders/pix-bridge/internal/webhook"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	webhookSecret = "Basic d2ViaG9vaw=="
	intakeSecret  = "Bearer intake"
)

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, event types.WebhookEvent) (
	reconcile.Outcome, error) {

	args := m.Called(ctx, event)
	return args.Get(0).(reconcile.Outcome), args.Error(1)
}

type MockForwarder struct {
	mock.Mock
}

func (m *MockForwarder) Forward(ctx context.Context, peer webhook.Peer, body []byte,
	credential string) (*webhook.ForwardResult, error) {

	args := m.Called(ctx, peer, body, credential)
	result, _ := args.Get(0).(*webhook.ForwardResult)
	return result, args.Error(1)
}

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Ensure(ctx context.Context, kind types.JobKind, entryID string,
	payload types.JobPayload, delay time.Duration) (bool, error) {

	args := m.Called(ctx, kind, entryID, payload, delay)
	return args.Bool(0), args.Error(1)
}

type deadLettersStub struct {
	jobs  []types.FailedJob
	limit int64
}

func (d *deadLettersStub) DeadJobs(_ context.Context, limit int64) ([]types.FailedJob, error) {
	d.limit = limit
	if int64(len(d.jobs)) > limit {
		return d.jobs[:limit], nil
	}
	return d.jobs, nil
}

type lookup map[string]bool

func (l lookup) ExistsByExternalEntryID(_ context.Context, entryID string) (bool, error) {
	return l[entryID], nil
}

type healthStub struct {
	healthy bool
}

func (h healthStub) GetHealthStatus() health.HealthStatus {
	return health.HealthStatus{Healthy: h.healthy}
}

type testServer struct {
	server     *Server
	reconciler *MockReconciler
	forwarder  *MockForwarder
	scheduler  *MockScheduler
	dead       *deadLettersStub
	store      *memory.Store
}

func newTestServer(t *testing.T, healthy bool) *testServer {
	t.Helper()

	store := memory.New()
	require.NoError(t, store.Create(context.Background(), &types.Transaction{
		ExternalEntryID: "local-1",
		OwnerID:         42,
		Status:          types.StatusPending,
	}))

	ts := &testServer{
		reconciler: new(MockReconciler),
		forwarder:  new(MockForwarder),
		scheduler:  new(MockScheduler),
		dead:       &deadLettersStub{},
		store:      store,
	}

	peer := webhook.Peer{Name: "staging", BaseURL: "http://staging", Store: lookup{"stg-1": true}}

	ts.server = NewServer(&Config{
		WriteTimeout:    5 * time.Second,
		MaxBodyBytes:    1 << 16,
		WebhookPath:     "/webhook",
		AuthHeader:      "Authorization",
		ReminderDelay:   70 * time.Second,
		ExpirationDelay: 30 * time.Minute,
		ID:              "test",
	}, &Services{
		WebhookAuth: webhook.NewAuthenticator(webhookSecret),
		IntakeAuth:  webhook.NewAuthenticator(intakeSecret),
		Router:      webhook.NewRouter(store, peer),
		Forwarder:   ts.forwarder,
		Reconciler:  ts.reconciler,
		Store:       store,
		Scheduler:   ts.scheduler,
		Health:      healthStub{healthy: healthy},
		DeadLetters: ts.dead,
	})

	return ts
}

func (ts *testServer) post(path, credential, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if credential != "" {
		req.Header.Set("Authorization", credential)
	}

	rec := httptest.NewRecorder()
	ts.server.Routes().ServeHTTP(rec, req)

	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ok)

	return resp
}

func TestWebhook_Unauthorized(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.post("/webhook", "Basic wrong", `{"externalEntryId":"local-1","terminalSignal":"depix_sent"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).ErrorCode)
	ts.reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestWebhook_BadRequest(t *testing.T) {
	ts := newTestServer(t, true)

	for name, body := range map[string]string{
		"malformed":     `{"externalEntryId":`,
		"missing entry": `{"terminalSignal":"depix_sent"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := ts.post("/webhook", webhookSecret, body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "bad_request", decodeError(t, rec).ErrorCode)
		})
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	ts.server.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhook_Local(t *testing.T) {
	ts := newTestServer(t, true)

	event := types.WebhookEvent{
		ExternalEntryID:     "local-1",
		TerminalSignal:      "depix_sent",
		SettlementReference: "E2E-1",
	}
	ts.reconciler.On("Reconcile", mock.Anything, event).
		Return(reconcile.OutcomeProcessed, nil).Once()
	ts.reconciler.On("Reconcile", mock.Anything, event).
		Return(reconcile.OutcomeAlreadyProcessed, nil).Once()

	body := `{"externalEntryId":"local-1","terminalSignal":"depix_sent","settlementReference":"E2E-1"}`

	rec := ts.post("/webhook", webhookSecret, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"data":"processed"}`, rec.Body.String())

	rec = ts.post("/webhook", webhookSecret, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"data":"already processed"}`, rec.Body.String())

	ts.reconciler.AssertExpectations(t)
}

func TestWebhook_LocalVanished(t *testing.T) {
	ts := newTestServer(t, true)

	ts.reconciler.On("Reconcile", mock.Anything, mock.Anything).
		Return(reconcile.Outcome(""), repository.ErrNotFound)

	rec := ts.post("/webhook", webhookSecret, `{"externalEntryId":"local-1","terminalSignal":"error"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_LocalFailure(t *testing.T) {
	ts := newTestServer(t, true)

	ts.reconciler.On("Reconcile", mock.Anything, mock.Anything).
		Return(reconcile.Outcome(""), errors.New("pool closed"))

	rec := ts.post("/webhook", webhookSecret, `{"externalEntryId":"local-1","terminalSignal":"error"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).ErrorCode)
	assert.NotContains(t, rec.Body.String(), "pool closed")
}

func TestWebhook_Unknown(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.post("/webhook", webhookSecret, `{"externalEntryId":"nowhere","terminalSignal":"depix_sent"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).ErrorCode)
	ts.reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
	ts.forwarder.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhook_ForwardRelaysPeerResponse(t *testing.T) {
	ts := newTestServer(t, true)

	body := `{"externalEntryId":"stg-1","terminalSignal":"depix_sent"}`

	ts.forwarder.On("Forward", mock.Anything,
		mock.MatchedBy(func(p webhook.Peer) bool { return p.Name == "staging" }),
		[]byte(body), webhookSecret,
	).Return(&webhook.ForwardResult{
		StatusCode:  http.StatusAccepted,
		ContentType: "text/plain",
		Body:        []byte("peer says hi"),
	}, nil)

	rec := ts.post("/webhook", webhookSecret, body)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "peer says hi", rec.Body.String())
	ts.reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestWebhook_ForwardFailure(t *testing.T) {
	ts := newTestServer(t, true)

	ts.forwarder.On("Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, webhook.ErrForwarding)

	rec := ts.post("/webhook", webhookSecret, `{"externalEntryId":"stg-1","terminalSignal":"depix_sent"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "forwarding_failed", decodeError(t, rec).ErrorCode)
}

func TestTransactions_Create(t *testing.T) {
	ts := newTestServer(t, true)

	payload := types.JobPayload{
		OwnerID:         7,
		ExternalEntryID: "new-1",
		Amount:          decimal.RequireFromString("50.00"),
	}
	ts.scheduler.On("Ensure", mock.Anything, types.JobReminder, "new-1",
		mock.MatchedBy(func(p types.JobPayload) bool { return p.Amount.Equal(payload.Amount) && p.OwnerID == 7 }),
		70*time.Second).Return(true, nil)
	ts.scheduler.On("Ensure", mock.Anything, types.JobExpiration, "new-1",
		mock.Anything, 30*time.Minute).Return(true, nil)

	rec := ts.post("/transactions", intakeSecret,
		`{"ownerId":7,"requestedAmount":"50.00","expectedPayoutAmount":"49.10","externalEntryId":"new-1","qrMessageId":11}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Ok   bool               `json:"ok"`
		Data TransactionCreated `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Ok)
	assert.Equal(t, "new-1", resp.Data.ExternalEntryID)
	assert.Equal(t, types.StatusPending, resp.Data.Status)

	tx, err := ts.store.GetByExternalEntryID(context.Background(), "new-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), tx.OwnerID)
	require.NotNil(t, tx.QRMessageID)
	assert.Equal(t, int64(11), *tx.QRMessageID)
	assert.True(t, tx.ExpectedPayoutAmount.Equal(decimal.RequireFromString("49.1")))

	ts.scheduler.AssertExpectations(t)
}

func TestTransactions_Duplicate(t *testing.T) {
	ts := newTestServer(t, true)

	// the jobs of the stored transaction are already there
	ts.scheduler.On("Ensure", mock.Anything, mock.Anything, "local-1",
		mock.Anything, mock.Anything).Return(false, nil)

	rec := ts.post("/transactions", intakeSecret,
		`{"ownerId":42,"requestedAmount":"10","expectedPayoutAmount":"9","externalEntryId":"local-1"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", decodeError(t, rec).ErrorCode)
}

func TestTransactions_SchedulingFailureIsRetryable(t *testing.T) {
	ts := newTestServer(t, true)

	ts.scheduler.On("Ensure", mock.Anything, types.JobReminder, "p-1",
		mock.Anything, mock.Anything).Return(true, nil)
	ts.scheduler.On("Ensure", mock.Anything, types.JobExpiration, "p-1",
		mock.Anything, mock.Anything).Return(false, errors.New("redis down")).Once()
	ts.scheduler.On("Ensure", mock.Anything, types.JobExpiration, "p-1",
		mock.Anything, mock.Anything).Return(true, nil).Once()

	body := `{"ownerId":5,"requestedAmount":"10","expectedPayoutAmount":"9","externalEntryId":"p-1"}`

	rec := ts.post("/transactions", intakeSecret, body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// nothing is stored without its expiration
	_, err := ts.store.GetByExternalEntryID(context.Background(), "p-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	rec = ts.post("/transactions", intakeSecret, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tx, err := ts.store.GetByExternalEntryID(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, tx.Status)
	ts.scheduler.AssertNumberOfCalls(t, "Ensure", 4)
}

func TestTransactions_Rejects(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.post("/transactions", webhookSecret,
		`{"ownerId":1,"requestedAmount":"10","expectedPayoutAmount":"9","externalEntryId":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.post("/transactions", intakeSecret,
		`{"ownerId":1,"requestedAmount":"ten","expectedPayoutAmount":"9","externalEntryId":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.post("/transactions", intakeSecret,
		`{"ownerId":1,"requestedAmount":"-10","expectedPayoutAmount":"9","externalEntryId":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProbes(t *testing.T) {
	for _, healthy := range []bool{true, false} {
		ts := newTestServer(t, healthy)

		rec := httptest.NewRecorder()
		ts.server.ProbeRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		ts.server.ProbeRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if healthy {
			assert.Equal(t, http.StatusOK, rec.Code)
		} else {
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		}
	}
}

func TestProbes_DeadJobs(t *testing.T) {
	ts := newTestServer(t, true)
	ts.dead.jobs = []types.FailedJob{
		{ID: "reminder:a", Kind: types.JobReminder, Attempts: 5, Error: "chat is down"},
		{ID: "expiration:b", Kind: types.JobExpiration, Attempts: 5, Error: "pool closed"},
	}

	rec := httptest.NewRecorder()
	ts.server.ProbeRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/dead?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Ok   bool              `json:"ok"`
		Data []types.FailedJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "reminder:a", resp.Data[0].ID)
	assert.Equal(t, int64(1), ts.dead.limit)

	rec = httptest.NewRecorder()
	ts.server.ProbeRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/dead?limit=-3", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
