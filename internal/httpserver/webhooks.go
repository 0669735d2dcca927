package httpserver

import (
	"io"
	"net/http"
	"strings"

	"zapflow/internal/channel"
	"zapflow/internal/channel/dm"
	"zapflow/internal/channel/evo"
	"zapflow/internal/channel/meta"
	"zapflow/internal/repo"
)

const maxWebhookBody = 1 << 20

// handleWebhook receives provider callbacks on
// /webhook/{provider}/{connectionID}. Processing failures are logged and
// swallowed: a non-success response would only make the provider redeliver
// a payload we already cannot act on, and dedup absorbs redeliveries of
// payloads we can.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/webhook/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}
	provider, connectionID := parts[0], parts[1]

	conn, err := s.store.GetConnection(r.Context(), connectionID)
	if err != nil {
		s.logger.Error("failed loading connection", "connection_id", connectionID, "error", err)
		writeJSON(w, map[string]string{"status": "ok"})
		return
	}
	if conn == nil || conn.Provider != provider {
		s.logger.Warn("webhook for unknown connection", "provider", provider, "connection_id", connectionID)
		writeJSON(w, map[string]string{"status": "ok"})
		return
	}

	if r.Method == http.MethodGet {
		s.handleVerification(w, r, conn)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Error("failed reading webhook body", "provider", provider, "error", err)
		writeJSON(w, map[string]string{"status": "ok"})
		return
	}

	switch provider {
	case repo.ProviderEvo:
		s.ingestGateway(r, conn, body)
	case repo.ProviderMeta:
		s.ingestAll(r, conn, body, meta.ParseWebhook)
	case repo.ProviderDM:
		s.ingestAll(r, conn, body, dm.ParseWebhook)
	default:
		s.logger.Warn("webhook for unsupported provider", "provider", provider)
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

// handleVerification answers the platform subscription handshake.
func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request, conn *repo.Connection) {
	query := r.URL.Query()
	challenge, ok := meta.VerifyChallenge(
		query.Get("hub.mode"),
		query.Get("hub.verify_token"),
		query.Get("hub.challenge"),
		conn.VerifyToken,
	)
	if !ok {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(challenge))
}

// ingestGateway handles the gateway's event envelope, which can carry a
// message, a connection status change, or nothing actionable.
func (s *Server) ingestGateway(r *http.Request, conn *repo.Connection, body []byte) {
	event, err := evo.ParseWebhook(body)
	if err != nil {
		s.logger.Warn("malformed gateway webhook", "connection_id", conn.ID, "error", err)
		return
	}
	if event.Status != "" {
		if err := s.engine.RecordConnectionStatus(r.Context(), conn, event.Status); err != nil {
			s.logger.Error("failed updating connection status", "connection_id", conn.ID, "error", err)
		}
	}
	if event.Inbound != nil {
		if err := s.engine.Ingest(r.Context(), conn, *event.Inbound); err != nil {
			s.logger.Error("failed ingesting gateway message", "connection_id", conn.ID, "error", err)
		}
	}
}

func (s *Server) ingestAll(r *http.Request, conn *repo.Connection, body []byte, parse func([]byte) ([]channel.Inbound, error)) {
	inbounds, err := parse(body)
	if err != nil {
		s.logger.Warn("malformed webhook payload", "provider", conn.Provider, "connection_id", conn.ID, "error", err)
		return
	}
	for _, inbound := range inbounds {
		if err := s.engine.Ingest(r.Context(), conn, inbound); err != nil {
			s.logger.Error("failed ingesting message", "provider", conn.Provider, "connection_id", conn.ID, "error", err)
		}
	}
}
