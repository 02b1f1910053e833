package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardsettle/bridge/internal/service"
)

func pandaRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/hooks/panda", strings.NewReader(body))
}

const pandaAuthBody = `{
	"id": "evt-1",
	"action": "requested",
	"body": {"id": "op-1", "spend": {"id": "op-1", "amount": 3500, "cardId": "card-1", "status": "pending"}}
}`

func TestPanda_RequestedApproved(t *testing.T) {
	authorizer := &fakeAuthorizer{result: &service.AuthorizationResult{Decision: service.DecisionApproved}}
	handler := newTestHandler(authorizer, nil)

	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(pandaAuthBody))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1, authorizer.calls)
	assert.Equal(t, "card-1", authorizer.lastReq.CardID)
	assert.Equal(t, "op-1", authorizer.lastReq.OperationID)
	assert.True(t, decimal.RequireFromString("35").Equal(authorizer.lastReq.AmountUSD),
		"3500 cents must authorize as 35 dollars, got %s", authorizer.lastReq.AmountUSD)
}

func TestPanda_RequestedDeclined(t *testing.T) {
	authorizer := &fakeAuthorizer{result: &service.AuthorizationResult{
		Decision: service.DecisionDeclined, Code: service.ErrCodeBadCollection,
	}}
	handler := newTestHandler(authorizer, nil)

	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(pandaAuthBody))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestPanda_RequestedUnknownCard(t *testing.T) {
	authorizer := &fakeAuthorizer{result: &service.AuthorizationResult{
		Decision: service.DecisionDeclined, Code: service.ErrCodeCardNotFound,
	}}
	handler := newTestHandler(authorizer, nil)

	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(pandaAuthBody))

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestPanda_RequestedProcessing(t *testing.T) {
	authorizer := &fakeAuthorizer{result: &service.AuthorizationResult{Decision: service.DecisionProcessing}}
	handler := newTestHandler(authorizer, nil)

	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(pandaAuthBody))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestPanda_MalformedPayload(t *testing.T) {
	handler := newTestHandler(nil, nil)

	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(`{"action":`))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestPanda_MissingIdentifiers(t *testing.T) {
	handler := newTestHandler(nil, nil)

	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(`{"action":"requested","body":{"spend":{"amount":100}}}`))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestPanda_CreatedPendingClears(t *testing.T) {
	settler := &fakeSettler{}
	handler := newTestHandler(nil, settler)

	body := `{
		"action": "created",
		"body": {"id": "op-1", "spend": {"id": "op-1", "amount": 9050, "cardId": "card-1", "status": "pending", "merchantName": "Corner Cafe", "merchantCity": "Lisbon", "merchantCountry": "PT"}}
	}`
	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(body))

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, settler.clearReqs, 1)
	req := settler.clearReqs[0]
	assert.Equal(t, ProviderPanda, req.Provider)
	assert.True(t, decimal.RequireFromString("90.5").Equal(req.AmountUSD))
	require.NotNil(t, req.Merchant)
	assert.Equal(t, "Corner Cafe", req.Merchant.Name)
	assert.JSONEq(t, body, string(req.Body))
}

func TestPanda_CreatedDeclinedRecordsBody(t *testing.T) {
	settler := &fakeSettler{}
	handler := newTestHandler(nil, settler)

	body := `{
		"action": "created",
		"body": {"id": "op-1", "spend": {"id": "op-1", "amount": 1000, "cardId": "card-1", "status": "declined"}}
	}`
	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(body))

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, settler.clearReqs, 1)
	assert.True(t, settler.clearReqs[0].AmountUSD.IsZero(), "declined spends record the body without collecting")
}

func TestPanda_UpdatedPendingCollectsDelta(t *testing.T) {
	settler := &fakeSettler{}
	handler := newTestHandler(nil, settler)

	body := `{
		"action": "updated",
		"body": {"id": "op-1", "spend": {"id": "op-1", "amount": 9050, "authorizationUpdateAmount": 250, "cardId": "card-1", "status": "pending"}}
	}`
	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(body))

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, settler.clearReqs, 1)
	assert.True(t, decimal.RequireFromString("2.5").Equal(settler.clearReqs[0].AmountUSD),
		"a pending update collects its delta, got %s", settler.clearReqs[0].AmountUSD)
}

func TestPanda_UpdatedNegativeDeltaRecordsBody(t *testing.T) {
	settler := &fakeSettler{}
	handler := newTestHandler(nil, settler)

	body := `{
		"action": "updated",
		"body": {"id": "op-1", "spend": {"id": "op-1", "authorizationUpdateAmount": -300, "cardId": "card-1", "status": "pending"}}
	}`
	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(body))

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, settler.clearReqs, 1)
	assert.True(t, settler.clearReqs[0].AmountUSD.IsZero(), "negative updates record the body without collecting")
}

func TestPanda_CompletedIsAcknowledged(t *testing.T) {
	settler := &fakeSettler{}
	handler := newTestHandler(nil, settler)

	body := `{
		"action": "completed",
		"body": {"id": "op-1", "spend": {"id": "op-1", "amount": 9050, "cardId": "card-1", "status": "completed"}}
	}`
	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(body))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, settler.clearReqs)
	assert.Empty(t, settler.refundReqs)
}

func TestPanda_ReversedUpdateIsReversal(t *testing.T) {
	settler := &fakeSettler{}
	handler := newTestHandler(nil, settler)

	body := `{
		"action": "updated",
		"body": {"id": "op-1", "spend": {"id": "op-1", "authorizationUpdateAmount": -1000, "cardId": "card-1", "status": "reversed"}}
	}`
	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(body))

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, settler.refundReqs, 1)
	assert.True(t, settler.refundReqs[0].Reversal)
	assert.Empty(t, settler.clearReqs)
}

func TestPanda_UnknownActionIsAcknowledged(t *testing.T) {
	settler := &fakeSettler{}
	handler := newTestHandler(nil, settler)

	recorder := httptest.NewRecorder()
	handler.Panda(recorder, pandaRequest(`{"action":"archived","body":{"id":"op-1","spend":{"id":"op-1","cardId":"card-1"}}}`))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, settler.clearReqs)
	assert.Empty(t, settler.refundReqs)
}
