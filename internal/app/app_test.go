package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/config"
	"tickerpulse/pkg/contracts"
	"tickerpulse/pkg/contracts/events"
)

const testToken = "test-credential"

// newTestApplication wires one application over the default config with
// auth enabled. OTel registers collectors on the process-global
// Prometheus registry, so the suite builds a single application and
// shares it across subtests.
func newTestApplication(t *testing.T) *Application {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.Tokens = []string{testToken}
	cfg.Logging.Level = "error"
	cfg.Providers.SimRate = 0 // ungated

	application, err := newApplication(cfg)
	require.NoError(t, err)
	require.NotNil(t, application)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, application.Stop(ctx))
	})
	return application
}

func TestApplication(t *testing.T) {
	application := newTestApplication(t)

	require.NotNil(t, application.Router)
	require.NotNil(t, application.Server)
	assert.Equal(t, ":8080", application.Server.Addr)
	assert.Equal(t, 5, application.Workers.Count())

	ts := httptest.NewServer(application.Router)
	defer ts.Close()

	client := ts.Client()

	t.Run("health", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Status   string                 `json:"status"`
			Version  string                 `json:"version"`
			Services map[string]interface{} `json:"services"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, contracts.Version, body.Version)
		assert.Contains(t, body.Services, "pipeline")
		assert.Contains(t, body.Services, "sessions")
		assert.Contains(t, body.Services, "stream")
	})

	t.Run("liveness", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/health/live")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("version", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/version")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, contracts.Version, body["version"])
	})

	t.Run("sessions requires credential", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/sessions")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("sessions with credential", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/sessions", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+testToken)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Sessions []json.RawMessage `json:"sessions"`
			Count    int               `json:"count"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, len(body.Sessions), body.Count)
	})

	t.Run("cancel unknown session", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/no-such-session", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+testToken)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.NotEmpty(t, body)
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/nope")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("stream rejects bad credential", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/ws", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer wrong")

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var reject events.RejectMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&reject))
		assert.Equal(t, events.RejectType, reject.Type)
		assert.Equal(t, events.ErrCodeUnauthorized, reject.Code)
	})

	t.Run("stream analysis round trip", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		header := http.Header{}
		header.Set("Authorization", "Bearer "+testToken)

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		defer conn.Close()

		submit := map[string]interface{}{
			"type": events.ClientMessageSubmit,
			"job":  map[string]interface{}{"subject": "ACME", "mode": "standard"},
		}
		require.NoError(t, conn.WriteJSON(submit))

		var received []events.Event
		deadline := time.Now().Add(15 * time.Second)
		for {
			require.NoError(t, conn.SetReadDeadline(deadline))
			_, data, err := conn.ReadMessage()
			require.NoError(t, err, "stream ended before a terminal event")

			var ev events.Event
			require.NoError(t, json.Unmarshal(data, &ev))
			received = append(received, ev)
			if ev.IsTerminal() {
				break
			}
		}

		require.NotEmpty(t, received)
		first := received[0]
		assert.Equal(t, events.EventTypeJobStarted, first.Type)
		assert.NotEmpty(t, first.SessionID)

		var started events.JobStartedPayload
		require.NoError(t, first.DecodePayload(&started))
		assert.Equal(t, "ACME", started.Subject)
		assert.Len(t, started.Analysts, 3)

		var lastSeq uint64
		workerEvents := 0
		for _, ev := range received {
			assert.Equal(t, first.SessionID, ev.SessionID)
			assert.Greater(t, ev.Seq, lastSeq, "seq must be strictly increasing")
			lastSeq = ev.Seq

			switch ev.Type {
			case events.EventTypeWorkerStarted, events.EventTypeWorkerCompleted, events.EventTypeWorkerFailed:
				workerEvents++
			}
		}

		// Three analysts plus the risk checker at minimum.
		assert.GreaterOrEqual(t, workerEvents, 4)

		terminal := received[len(received)-1]
		assert.Contains(t, []events.EventType{
			events.EventTypeDecision,
			events.EventTypeVeto,
		}, terminal.Type)
	})
}
