package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/realtime"
)

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()

	cfg := LoadConfig()
	cfg.SeedUsers = "mai:test-password:STAFF,an.tran:admin-password:ADMIN|STAFF"

	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)
	return a, ts
}

func postJSON(t *testing.T, url, bearer string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func loginSession(t *testing.T, ts *httptest.Server, username, password string) (sessionID, token string) {
	t.Helper()

	resp, raw := postJSON(t, ts.URL+"/auth/login", "", map[string]string{
		"username": username,
		"password": password,
		"platform": "WEB",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status = %d (body=%s)", resp.StatusCode, raw)
	}

	var env struct {
		Success bool `json:"success"`
		Data    struct {
			SessionID string `json:"sessionId"`
			Token     string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || env.Data.SessionID == "" || env.Data.Token == "" {
		t.Fatalf("login envelope = %s", raw)
	}
	return env.Data.SessionID, env.Data.Token
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	_, ts := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status = %d", path, resp.StatusCode)
		}
	}
}

func TestLoginThenForcedLogoutReachesDevice(t *testing.T) {
	a, ts := newTestApp(t)

	sessionID, _ := loginSession(t, ts, "mai", "test-password")

	wsEndpoint := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?sessionId=" + sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsEndpoint, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	readEnvelope := func() realtime.Envelope {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return env
	}

	if env := readEnvelope(); env.Type != realtime.TypeWelcome {
		t.Fatalf("first frame = %q, want welcome", env.Type)
	}

	// The admin session terminates mai's session; the device gets pushed a
	// forced logout before the connection goes away.
	_, adminToken := loginSession(t, ts, "an.tran", "admin-password")
	resp, raw := postJSON(t, ts.URL+"/realtime/force-logout", adminToken, map[string]string{
		"sessionId": sessionID,
		"message":   "terminated by admin",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("force-logout: status = %d (body=%s)", resp.StatusCode, raw)
	}

	env := readEnvelope()
	if env.Type != realtime.TypeForceLogout {
		t.Fatalf("frame = %q, want force_logout", env.Type)
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Message != "terminated by admin" {
		t.Fatalf("message = %q", payload.Message)
	}

	if a.registry.Exists(sessionID) {
		t.Fatalf("session survived forced logout")
	}

	// A fresh dial with the dead session is refused before the upgrade.
	_, resp2, err := websocket.Dial(ctx, wsEndpoint, nil)
	if err == nil {
		t.Fatalf("dial succeeded with an invalidated session")
	}
	if resp2 == nil || resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("redial resp = %+v, want 401", resp2)
	}
}

func TestQRLoginFlowEndToEnd(t *testing.T) {
	a, ts := newTestApp(t)

	_, deviceToken := loginSession(t, ts, "mai", "test-password")

	resp, raw := postJSON(t, ts.URL+"/qr-login/create", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status = %d", resp.StatusCode)
	}
	var created struct {
		Data struct {
			TicketID string `json:"ticketId"`
			Code     string `json:"code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp, raw = postJSON(t, ts.URL+"/qr-login/confirm", deviceToken, map[string]string{
		"code": created.Data.Code,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: status = %d (body=%s)", resp.StatusCode, raw)
	}

	statusResp, err := http.Get(ts.URL + "/qr-login/status/" + created.Data.TicketID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	raw, _ = io.ReadAll(statusResp.Body)
	_ = statusResp.Body.Close()

	var st struct {
		Data struct {
			Status string `json:"status"`
			Grant  *struct {
				SessionID string `json:"sessionId"`
				Username  string `json:"username"`
			} `json:"grant"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Data.Status != "Confirmed" || st.Data.Grant == nil {
		t.Fatalf("status = %s", raw)
	}
	if st.Data.Grant.Username != "MAI" {
		t.Fatalf("grant username = %q", st.Data.Grant.Username)
	}
	if !a.registry.Exists(st.Data.Grant.SessionID) {
		t.Fatalf("minted session not live")
	}
}
