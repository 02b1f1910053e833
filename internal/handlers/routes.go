package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cardsettle/bridge/internal/middleware"
)

// NewRouter wires the webhook endpoints with their provider authentication
func NewRouter(handler *Handler, pandaKey, cryptomateKey string, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.HandleFunc("/health", handler.Health).Methods(http.MethodGet)

	panda := router.PathPrefix("/hooks/panda").Subrouter()
	panda.Use(middleware.VerifySignature(pandaKey, logger))
	panda.HandleFunc("", handler.Panda).Methods(http.MethodPost)

	cryptomate := router.PathPrefix("/hooks/cryptomate").Subrouter()
	cryptomate.Use(middleware.VerifyWebhookKey(cryptomateKey, logger))
	cryptomate.HandleFunc("", handler.Cryptomate).Methods(http.MethodPost)

	return router
}
