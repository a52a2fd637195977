// Package server exposes the inbound webhook that delivers chat messages
// into the archive pipeline.
package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/usecase"
	"github.com/Yuanja/watch-tracker-sub002/internal/service"
)

// maxBodyBytes bounds an inbound webhook payload.
const maxBodyBytes = 1 << 20

// WebhookServer receives signed message deliveries from the chat bridge.
type WebhookServer struct {
	pipeline *service.Pipeline
	secret   string
	logger   *slog.Logger
	srv      *http.Server
}

// NewWebhookServer creates a webhook server. An empty secret disables
// signature verification, for local development only.
func NewWebhookServer(pipeline *service.Pipeline, addr, secret string, logger *slog.Logger) *WebhookServer {
	s := &WebhookServer{
		pipeline: pipeline,
		secret:   secret,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/message", s.handleMessage)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *WebhookServer) Start() error {
	s.logger.Info("webhook server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// Stop shuts the server down, draining in-flight requests.
func (s *WebhookServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// messagePayload is the wire form of one delivered message.
type messagePayload struct {
	MessageID   string `json:"message_id"`
	GroupID     string `json:"group_id"`
	GroupName   string `json:"group_name"`
	SenderName  string `json:"sender_name"`
	SenderPhone string `json:"sender_phone"`
	Body        string `json:"body"`
	MediaType   string `json:"media_type"`
	MediaURL    string `json:"media_url"`
	IsForwarded bool   `json:"is_forwarded"`
	IsReply     bool   `json:"is_reply"`
	Timestamp   int64  `json:"timestamp"`
}

// messageResult is the per-message outcome reported back to the bridge.
type messageResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (s *WebhookServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// The signature covers the raw body, so verification happens before any
	// decoding.
	if !s.verifySignature(body, r.Header.Get("X-Signature")) {
		s.logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	payloads, err := decodePayloads(body)
	if err != nil || len(payloads) == 0 {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	results := make([]messageResult, 0, len(payloads))
	accepted := 0
	for _, payload := range payloads {
		results = append(results, s.ingestOne(r.Context(), payload))
		if results[len(results)-1].Status == "accepted" {
			accepted++
		}
	}

	status := http.StatusAccepted
	if accepted == 0 {
		// Nothing in the batch was usable.
		status = http.StatusBadRequest
		for _, res := range results {
			if res.Status == "failed" {
				status = http.StatusInternalServerError
				break
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accepted": accepted,
		"results":  results,
	})
}

// decodePayloads accepts either a single message object or an array of them.
func decodePayloads(body []byte) ([]messagePayload, error) {
	trimmed := bytes.TrimLeftFunc(body, unicode.IsSpace)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var payloads []messagePayload
		if err := json.Unmarshal(body, &payloads); err != nil {
			return nil, err
		}
		return payloads, nil
	}

	var payload messagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return []messagePayload{payload}, nil
}

func (s *WebhookServer) ingestOne(ctx context.Context, payload messagePayload) messageResult {
	if payload.MessageID == "" || payload.GroupID == "" {
		return messageResult{
			MessageID: payload.MessageID,
			Status:    "rejected",
			Error:     "message_id and group_id are required",
		}
	}

	in := &usecase.InboundMessage{
		ExternalID:      payload.MessageID,
		GroupExternalID: payload.GroupID,
		GroupName:       payload.GroupName,
		SenderName:      payload.SenderName,
		SenderPhone:     payload.SenderPhone,
		Body:            payload.Body,
		MediaType:       payload.MediaType,
		MediaURL:        payload.MediaURL,
		IsForwarded:     payload.IsForwarded,
		IsReply:         payload.IsReply,
	}
	if payload.Timestamp > 0 {
		in.Timestamp = time.Unix(payload.Timestamp, 0)
	}

	if err := s.pipeline.Ingest(ctx, in); err != nil {
		s.logger.Error("failed to ingest message", "external_id", payload.MessageID, "error", err)
		return messageResult{MessageID: payload.MessageID, Status: "failed", Error: "ingest failed"}
	}
	return messageResult{MessageID: payload.MessageID, Status: "accepted"}
}

func (s *WebhookServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// verifySignature checks the hex HMAC-SHA256 of the raw body. With no secret
// configured every request passes.
func (s *WebhookServer) verifySignature(body []byte, signature string) bool {
	if s.secret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
