package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardsettle/bridge/internal/models"
	"github.com/cardsettle/bridge/internal/service"
)

// ProviderCryptomate tags operation records created by the cryptomate webhook
const ProviderCryptomate = "cryptomate"

// ISO 8583-style response codes the cryptomate provider acts on
const (
	codeApproved         = "00"
	codeDeclined         = "05"
	codeUnableToLocate   = "25"
	codeBadCollection    = "51"
	codeRefundExceedsMax = "57"
	codeSimulationError  = "69"
	codeProcessingRetry  = "91"
)

// cryptomateEvent is the cryptomate webhook envelope. Amounts are decimal
// dollars.
type cryptomateEvent struct {
	EventType   string `json:"event_type"`
	Status      string `json:"status"`
	OperationID string `json:"operation_id"`
	Data        struct {
		CardID       string      `json:"card_id"`
		Amount       json.Number `json:"amount"`
		BillAmount   json.Number `json:"bill_amount"`
		CreatedAt    string      `json:"created_at"`
		MerchantData struct {
			Name    string `json:"name"`
			City    string `json:"city"`
			Country string `json:"country"`
		} `json:"merchant_data"`
	} `json:"data"`
}

// timestamp returns the payload's creation time. The issuer signature binds
// to it, so a redelivered event re-plans the exact call it planned the
// first time and the chain rejects the duplicate as a replay.
func (e *cryptomateEvent) timestamp() int64 {
	if created, err := time.Parse(time.RFC3339, e.Data.CreatedAt); err == nil {
		return created.Unix()
	}
	return time.Now().Unix()
}

func (e *cryptomateEvent) merchant() *models.Merchant {
	if e.Data.MerchantData.Name == "" {
		return nil
	}
	return &models.Merchant{
		Name:    e.Data.MerchantData.Name,
		City:    e.Data.MerchantData.City,
		Country: e.Data.MerchantData.Country,
	}
}

// Cryptomate handles cryptomate webhooks. The provider acts on the
// response_code field, so business declines still answer HTTP 200.
func (h *Handler) Cryptomate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	var event cryptomateEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}
	if event.Data.CardID == "" || event.OperationID == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "missing identifiers"})
		return
	}

	switch event.EventType {
	case "AUTHORIZATION":
		if event.Status == "DECLINED" {
			// Provider-side decline notification: record the body and free
			// the account for the next authorization.
			h.cryptomateRecord(w, r, &event, raw)
			return
		}
		h.cryptomateAuthorization(w, r, &event)
	case "CLEARING":
		if event.Status != "PENDING" {
			// SUCCESS and FAILED confirm a clearing that already collected;
			// record the body without touching the chain.
			h.cryptomateRecord(w, r, &event, raw)
			return
		}
		h.cryptomateClearing(w, r, &event, raw)
	case "DECLINED":
		// Provider-side decline of the whole operation: record the body and
		// free the account for the next authorization.
		h.cryptomateRecord(w, r, &event, raw)
	case "REFUND", "REVERSAL":
		h.cryptomateRefund(w, r, &event, raw, event.EventType == "REVERSAL")
	default:
		h.respondCode(w, codeApproved)
	}
}

func (h *Handler) cryptomateAuthorization(w http.ResponseWriter, r *http.Request, event *cryptomateEvent) {
	amount, err := dollarsToUSD(event.Data.Amount)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed amount"})
		return
	}

	result, err := h.authorizer.Authorize(r.Context(), service.AuthorizationRequest{
		CardID:      event.Data.CardID,
		OperationID: event.OperationID,
		AmountUSD:   amount,
		Timestamp:   event.timestamp(),
	})
	if err != nil {
		h.logger.Error("authorization failed", "operation_id", event.OperationID, "error", err)
		h.respondCode(w, codeDeclined)
		return
	}

	switch result.Decision {
	case service.DecisionApproved:
		h.respondCode(w, codeApproved)
	case service.DecisionProcessing:
		h.respondCode(w, codeProcessingRetry)
	default:
		if result.Code == service.ErrCodeCardNotFound || result.Code == service.ErrCodeCardInactive {
			h.respondJSON(w, http.StatusNotFound, map[string]string{"error": "card not found"})
			return
		}
		h.respondCode(w, declineCode(result.Code))
	}
}

func (h *Handler) cryptomateClearing(w http.ResponseWriter, r *http.Request, event *cryptomateEvent, raw json.RawMessage) {
	amount, err := dollarsToUSD(event.Data.BillAmount)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed amount"})
		return
	}

	result, err := h.settler.Clear(r.Context(), service.ClearingRequest{
		Provider:    ProviderCryptomate,
		CardID:      event.Data.CardID,
		OperationID: event.OperationID,
		AmountUSD:   amount,
		Timestamp:   event.timestamp(),
		Body:        raw,
		Merchant:    event.merchant(),
	})
	if err != nil {
		h.logger.Error("clearing failed", "operation_id", event.OperationID, "error", err)
		h.respondCode(w, codeProcessingRetry)
		return
	}
	h.respondSettlementCode(w, result)
}

func (h *Handler) cryptomateRefund(w http.ResponseWriter, r *http.Request, event *cryptomateEvent, raw json.RawMessage, reversal bool) {
	amount, err := dollarsToUSD(event.Data.Amount)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed amount"})
		return
	}

	result, err := h.settler.Refund(r.Context(), service.RefundRequest{
		Provider:    ProviderCryptomate,
		CardID:      event.Data.CardID,
		OperationID: event.OperationID,
		AmountUSD:   amount,
		Timestamp:   event.timestamp(),
		Body:        raw,
		Reversal:    reversal,
	})
	if err != nil {
		h.logger.Error("refund failed", "operation_id", event.OperationID, "error", err)
		h.respondCode(w, codeProcessingRetry)
		return
	}
	h.respondSettlementCode(w, result)
}

func (h *Handler) cryptomateRecord(w http.ResponseWriter, r *http.Request, event *cryptomateEvent, raw json.RawMessage) {
	_, err := h.settler.Clear(r.Context(), service.ClearingRequest{
		Provider:    ProviderCryptomate,
		CardID:      event.Data.CardID,
		OperationID: event.OperationID,
		AmountUSD:   decimal.Zero,
		Timestamp:   event.timestamp(),
		Body:        raw,
		Merchant:    event.merchant(),
	})
	if err != nil {
		h.logger.Error("failed to record lifecycle event", "operation_id", event.OperationID, "error", err)
		h.respondCode(w, codeProcessingRetry)
		return
	}
	h.respondCode(w, codeApproved)
}

func (h *Handler) respondSettlementCode(w http.ResponseWriter, result *service.SettlementResult) {
	if !result.Declined {
		h.respondCode(w, codeApproved)
		return
	}
	if result.Code == service.ErrCodeCardNotFound {
		h.respondJSON(w, http.StatusNotFound, map[string]string{"error": "card not found"})
		return
	}
	h.respondCode(w, declineCode(result.Code))
}

func (h *Handler) respondCode(w http.ResponseWriter, code string) {
	h.respondJSON(w, http.StatusOK, map[string]string{"response_code": code})
}

func declineCode(code string) string {
	switch code {
	case service.ErrCodeSimulationError:
		return codeSimulationError
	case service.ErrCodeBadCollection:
		return codeBadCollection
	case service.ErrCodeRefundExceedsSpend:
		return codeRefundExceedsMax
	case service.ErrCodeReversalNotFound:
		return codeUnableToLocate
	default:
		return codeDeclined
	}
}

func dollarsToUSD(amount json.Number) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(amount.String())
}
