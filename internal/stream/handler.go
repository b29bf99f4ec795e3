package stream

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"tickerpulse/pkg/contracts/events"
)

// HandlerOptions tunes the upgrader. Zero values fall back to 1024.
type HandlerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
}

// Handler upgrades HTTP requests to stream connections. The bearer
// credential is checked before the upgrade; an invalid one gets a 401
// and no session is ever created for it.
type Handler struct {
	hub      *Hub
	commands Commands
	tokens   []string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the upgrade endpoint. tokens is the set of accepted
// bearer credentials; an empty set disables the check and identifies
// clients by peer host instead.
func NewHandler(hub *Hub, commands Commands, tokens []string, logger *slog.Logger, opts *HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "stream.handler"))

	readBuffer, writeBuffer := 1024, 1024
	if opts != nil {
		if opts.ReadBufferSize > 0 {
			readBuffer = opts.ReadBufferSize
		}
		if opts.WriteBufferSize > 0 {
			writeBuffer = opts.WriteBufferSize
		}
	}

	h := &Handler{
		hub:      hub,
		commands: commands,
		tokens:   tokens,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  readBuffer,
		WriteBufferSize: writeBuffer,
		// Auth is the bearer credential, not cookies; origin is not
		// enforced.
		CheckOrigin: func(r *http.Request) bool { return true },
		// A custom Error func owns the failure response.
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			h.logger.Error("upgrade error",
				slog.Int("status", status),
				slog.String("reason", reason.Error()),
				slog.String("remote_addr", r.RemoteAddr))
			writeReject(w, status, events.ErrCodeInvalidMessage, reason.Error())
		},
	}
	return h
}

// ServeHTTP authenticates and upgrades one connection, then starts its
// pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, ok := h.authorize(r)
	if !ok {
		h.logger.Warn("handshake rejected",
			slog.String("remote_addr", r.RemoteAddr))
		writeReject(w, http.StatusUnauthorized,
			events.ErrCodeUnauthorized, "missing or invalid bearer credential")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its error response.
		h.logger.Error("upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	client := NewClient(h.hub, NewConnection(conn), h.commands, key, h.logger)
	h.hub.Register(client)

	h.logger.Info("stream client connected",
		slog.String("client_id", client.ID()),
		slog.String("client_key", key),
		slog.String("remote_addr", r.RemoteAddr))

	go client.WritePump()
	go client.ReadPump()
}

// authorize validates the handshake credential and derives the client's
// stable identity from it.
func (h *Handler) authorize(r *http.Request) (string, bool) {
	if len(h.tokens) == 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return clientKeyFor("anon:" + host), true
	}

	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	presented := []byte(strings.TrimPrefix(header, prefix))

	for _, token := range h.tokens {
		if subtle.ConstantTimeCompare(presented, []byte(token)) == 1 {
			return clientKeyFor(token), true
		}
	}
	return "", false
}

// clientKeyFor fingerprints a credential so the raw secret never lands
// in registry maps or logs.
func clientKeyFor(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func writeReject(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(events.RejectMessage{
		Type:    events.RejectType,
		Code:    code,
		Message: message,
	})
}
