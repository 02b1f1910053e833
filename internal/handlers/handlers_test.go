package handlers

import (
	"context"
	"io"
	"log/slog"

	"github.com/cardsettle/bridge/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAuthorizer struct {
	result  *service.AuthorizationResult
	err     error
	lastReq service.AuthorizationRequest
	calls   int
}

func (f *fakeAuthorizer) Authorize(_ context.Context, req service.AuthorizationRequest) (*service.AuthorizationResult, error) {
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

type fakeSettler struct {
	clearResult  *service.SettlementResult
	refundResult *service.SettlementResult
	clearErr     error
	refundErr    error
	clearReqs    []service.ClearingRequest
	refundReqs   []service.RefundRequest
}

func (f *fakeSettler) Clear(_ context.Context, req service.ClearingRequest) (*service.SettlementResult, error) {
	f.clearReqs = append(f.clearReqs, req)
	if f.clearResult == nil {
		return &service.SettlementResult{}, f.clearErr
	}
	return f.clearResult, f.clearErr
}

func (f *fakeSettler) Refund(_ context.Context, req service.RefundRequest) (*service.SettlementResult, error) {
	f.refundReqs = append(f.refundReqs, req)
	if f.refundResult == nil {
		return &service.SettlementResult{}, f.refundErr
	}
	return f.refundResult, f.refundErr
}

func newTestHandler(authorizer *fakeAuthorizer, settler *fakeSettler) *Handler {
	if authorizer == nil {
		authorizer = &fakeAuthorizer{result: &service.AuthorizationResult{Decision: service.DecisionApproved}}
	}
	if settler == nil {
		settler = &fakeSettler{}
	}
	return New(authorizer, settler, testLogger())
}
