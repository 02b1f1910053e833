// Package middleware provides webhook authentication for the provider
// endpoints.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Signature"

// WebhookKeyHeader carries the shared webhook secret verbatim
const WebhookKeyHeader = "X-Webhook-Key"

// VerifySignature authenticates requests by recomputing the body HMAC with
// the shared key. The body is re-buffered for the downstream handler.
func VerifySignature(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "unreadable body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			mac := hmac.New(sha256.New, []byte(key))
			mac.Write(body)
			expected := hex.EncodeToString(mac.Sum(nil))

			if subtle.ConstantTimeCompare([]byte(expected), []byte(r.Header.Get(SignatureHeader))) != 1 {
				logger.Warn("rejected webhook with bad signature", "path", r.URL.Path)
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// VerifyWebhookKey authenticates requests by comparing the shared key header
func VerifyWebhookKey(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(key), []byte(r.Header.Get(WebhookKeyHeader))) != 1 {
				logger.Warn("rejected webhook with bad key", "path", r.URL.Path)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
