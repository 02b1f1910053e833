package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardsettle/bridge/internal/models"
	"github.com/cardsettle/bridge/internal/service"
)

// ProviderPanda tags operation records created by the panda webhook
const ProviderPanda = "panda"

// pandaEvent is the panda webhook envelope. Amounts are integer cents.
type pandaEvent struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Body   struct {
		ID    string `json:"id"`
		Spend struct {
			ID                        string      `json:"id"`
			Amount                    json.Number `json:"amount"`
			AuthorizationUpdateAmount json.Number `json:"authorizationUpdateAmount"`
			CardID                    string      `json:"cardId"`
			Status                    string      `json:"status"`
			MerchantName              string      `json:"merchantName"`
			MerchantCity              string      `json:"merchantCity"`
			MerchantCountry           string      `json:"merchantCountry"`
		} `json:"spend"`
	} `json:"body"`
}

func (e *pandaEvent) operationID() string {
	if e.Body.Spend.ID != "" {
		return e.Body.Spend.ID
	}
	return e.Body.ID
}

func (e *pandaEvent) merchant() *models.Merchant {
	if e.Body.Spend.MerchantName == "" {
		return nil
	}
	return &models.Merchant{
		Name:    e.Body.Spend.MerchantName,
		City:    e.Body.Spend.MerchantCity,
		Country: e.Body.Spend.MerchantCountry,
	}
}

// Panda handles panda webhooks. The provider reads the verdict from the HTTP
// status: 200 approves, 400 declines, 503 asks for a retry.
func (h *Handler) Panda(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	var event pandaEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}
	if event.Body.Spend.CardID == "" || event.operationID() == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "missing identifiers"})
		return
	}

	switch event.Action {
	case "requested":
		h.pandaAuthorization(w, r, &event)
	case "created":
		if event.Body.Spend.Status != "pending" {
			h.pandaRecord(w, r, &event, raw)
			return
		}
		h.pandaClearing(w, r, &event, raw, event.Body.Spend.Amount)
	case "updated":
		switch event.Body.Spend.Status {
		case "reversed":
			h.pandaReversal(w, r, &event, raw)
		case "pending":
			h.pandaUpdate(w, r, &event, raw)
		default:
			h.pandaRecord(w, r, &event, raw)
		}
	default:
		// "completed" and unknown actions are acknowledged without action;
		// the spend was already collected when it cleared as pending.
		h.respondJSON(w, http.StatusOK, map[string]any{})
	}
}

func (h *Handler) pandaAuthorization(w http.ResponseWriter, r *http.Request, event *pandaEvent) {
	amount, err := centsToUSD(event.Body.Spend.Amount)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed amount"})
		return
	}

	result, err := h.authorizer.Authorize(r.Context(), service.AuthorizationRequest{
		CardID:      event.Body.Spend.CardID,
		OperationID: event.operationID(),
		AmountUSD:   amount,
		Timestamp:   time.Now().Unix(),
	})
	if err != nil {
		h.logger.Error("authorization failed", "operation_id", event.operationID(), "error", err)
		h.respondJSON(w, http.StatusInternalServerError, map[string]any{})
		return
	}

	switch result.Decision {
	case service.DecisionApproved:
		h.respondJSON(w, http.StatusOK, map[string]any{})
	case service.DecisionProcessing:
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]any{})
	default:
		if result.Code == service.ErrCodeCardNotFound || result.Code == service.ErrCodeCardInactive {
			h.respondJSON(w, http.StatusNotFound, map[string]string{"error": "card not found"})
			return
		}
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"code": result.Code})
	}
}

// pandaRecord persists a spend lifecycle body without touching the chain; a
// zero-amount clearing records the body so later refunds see the full
// spend history.
func (h *Handler) pandaRecord(w http.ResponseWriter, r *http.Request, event *pandaEvent, raw json.RawMessage) {
	_, err := h.settler.Clear(r.Context(), service.ClearingRequest{
		Provider:    ProviderPanda,
		CardID:      event.Body.Spend.CardID,
		OperationID: event.operationID(),
		AmountUSD:   decimal.Zero,
		Timestamp:   time.Now().Unix(),
		Body:        raw,
		Merchant:    event.merchant(),
	})
	if err != nil {
		h.logger.Error("failed to record spend update", "operation_id", event.operationID(), "error", err)
		h.respondJSON(w, http.StatusInternalServerError, map[string]any{})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{})
}

// pandaUpdate handles a pending authorization update: a positive delta
// collects the additional amount, a non-positive one is recorded only.
func (h *Handler) pandaUpdate(w http.ResponseWriter, r *http.Request, event *pandaEvent, raw json.RawMessage) {
	delta, err := centsToUSD(event.Body.Spend.AuthorizationUpdateAmount)
	if err != nil || !delta.IsPositive() {
		h.pandaRecord(w, r, event, raw)
		return
	}
	h.pandaClearing(w, r, event, raw, event.Body.Spend.AuthorizationUpdateAmount)
}

func (h *Handler) pandaClearing(w http.ResponseWriter, r *http.Request, event *pandaEvent, raw json.RawMessage, cents json.Number) {
	amount, err := centsToUSD(cents)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed amount"})
		return
	}

	result, err := h.settler.Clear(r.Context(), service.ClearingRequest{
		Provider:    ProviderPanda,
		CardID:      event.Body.Spend.CardID,
		OperationID: event.operationID(),
		AmountUSD:   amount,
		Timestamp:   time.Now().Unix(),
		Body:        raw,
		Merchant:    event.merchant(),
	})
	if err != nil {
		h.logger.Error("clearing failed", "operation_id", event.operationID(), "error", err)
		h.respondJSON(w, http.StatusInternalServerError, map[string]any{})
		return
	}
	h.respondSettlement(w, result)
}

func (h *Handler) pandaReversal(w http.ResponseWriter, r *http.Request, event *pandaEvent, raw json.RawMessage) {
	// The reversed magnitude arrives as a negative authorization update;
	// the body record alone adjusts the cumulative spend.
	result, err := h.settler.Refund(r.Context(), service.RefundRequest{
		Provider:    ProviderPanda,
		CardID:      event.Body.Spend.CardID,
		OperationID: event.operationID(),
		AmountUSD:   decimal.Zero,
		Timestamp:   time.Now().Unix(),
		Body:        raw,
		Reversal:    true,
	})
	if err != nil {
		h.logger.Error("reversal failed", "operation_id", event.operationID(), "error", err)
		h.respondJSON(w, http.StatusInternalServerError, map[string]any{})
		return
	}
	h.respondSettlement(w, result)
}

func (h *Handler) respondSettlement(w http.ResponseWriter, result *service.SettlementResult) {
	if !result.Declined {
		h.respondJSON(w, http.StatusOK, map[string]any{})
		return
	}
	if result.Code == service.ErrCodeCardNotFound {
		h.respondJSON(w, http.StatusNotFound, map[string]string{"error": "card not found"})
		return
	}
	h.respondJSON(w, http.StatusBadRequest, map[string]string{"code": result.Code})
}

func centsToUSD(amount json.Number) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, errors.New("missing amount")
	}
	value, err := decimal.NewFromString(amount.String())
	if err != nil {
		return decimal.Zero, err
	}
	return value.Div(decimal.New(1, 2)), nil
}
