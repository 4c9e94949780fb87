package pairingapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/api"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/auth/session"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/identity"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/pairing"
)

type registryMinter struct {
	reg *session.Registry
}

func (m registryMinter) Mint(id identity.Identity, platform string) (pairing.Grant, error) {
	sess, err := m.reg.Create(id, platform)
	if err != nil {
		return pairing.Grant{}, err
	}
	return pairing.Grant{SessionID: sess.ID, Token: sess.Token, ExpiresAt: sess.ExpiresAt}, nil
}

type testEnv struct {
	reg *session.Registry
	ts  *httptest.Server
}

func newTestEnv(t *testing.T, cfg pairing.Config) *testEnv {
	t.Helper()

	reg, err := session.NewRegistry(nil, session.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	minter := registryMinter{reg: reg}

	webLogin, err := pairing.NewCoordinator(nil, "web-login", cfg, minter, nil)
	if err != nil {
		t.Fatalf("NewCoordinator(web-login): %v", err)
	}
	webToMobile, err := pairing.NewCoordinator(nil, "web-to-mobile", cfg, minter, nil)
	if err != nil {
		t.Fatalf("NewCoordinator(web-to-mobile): %v", err)
	}

	h, err := NewHandler(nil, webLogin, webToMobile, reg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testEnv{reg: reg, ts: ts}
}

func (e *testEnv) signIn(t *testing.T, username, platform string, roles ...string) session.Session {
	t.Helper()

	sess, err := e.reg.Create(identity.Identity{Username: username, Roles: roles}, platform)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	return sess
}

func doJSON(t *testing.T, method, url, bearer string, body any) (int, api.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
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

	var env api.Response
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, raw)
	}
	return resp.StatusCode, env
}

func dataAs(t *testing.T, env api.Response, dst any) {
	t.Helper()

	raw, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatalf("re-marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestWebLoginFlow(t *testing.T) {
	e := newTestEnv(t, pairing.DefaultConfig())
	device := e.signIn(t, "mai", "MOBILE", "STAFF")

	// Anonymous browser creates the ticket.
	status, env := doJSON(t, http.MethodPost, e.ts.URL+"/qr-login/create", "", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("create: status=%d env=%+v", status, env)
	}
	var created ticketCreatedResponse
	dataAs(t, env, &created)
	if created.Status != string(pairing.StatusPending) || created.Code == "" {
		t.Fatalf("created = %+v", created)
	}

	// Confirm without a token is rejected.
	status, _ = doJSON(t, http.MethodPost, e.ts.URL+"/qr-login/confirm", "", confirmRequest{Code: created.Code})
	if status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated confirm: status = %d, want 401", status)
	}

	// The signed-in device confirms.
	status, env = doJSON(t, http.MethodPost, e.ts.URL+"/qr-login/confirm", device.Token, confirmRequest{Code: created.Code})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("confirm: status=%d env=%+v", status, env)
	}
	var confirmed ticketConfirmedResponse
	dataAs(t, env, &confirmed)
	if confirmed.Status != string(pairing.StatusConfirmed) {
		t.Fatalf("confirmed = %+v", confirmed)
	}
	if confirmed.Grant != nil {
		t.Fatalf("web login confirm leaked the grant to the confirming device")
	}

	// The polling browser collects the minted session via status.
	status, env = doJSON(t, http.MethodGet, e.ts.URL+"/qr-login/status/"+created.TicketID, "", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("status: status=%d env=%+v", status, env)
	}
	var st ticketStatusResponse
	dataAs(t, env, &st)
	if st.Status != string(pairing.StatusConfirmed) || st.Grant == nil {
		t.Fatalf("status = %+v", st)
	}
	if st.Grant.Username != "mai" || st.Grant.Token == "" {
		t.Fatalf("grant = %+v", st.Grant)
	}
	if !e.reg.Exists(st.Grant.SessionID) {
		t.Fatalf("minted session not live in the registry")
	}
}

func TestWebLoginConfirmIsSingleUse(t *testing.T) {
	e := newTestEnv(t, pairing.DefaultConfig())
	device := e.signIn(t, "mai", "MOBILE")

	_, env := doJSON(t, http.MethodPost, e.ts.URL+"/qr-login/create", "", nil)
	var created ticketCreatedResponse
	dataAs(t, env, &created)

	if status, _ := doJSON(t, http.MethodPost, e.ts.URL+"/qr-login/confirm", device.Token, confirmRequest{Code: created.Code}); status != http.StatusOK {
		t.Fatalf("first confirm: %d", status)
	}
	status, env := doJSON(t, http.MethodPost, e.ts.URL+"/qr-login/confirm", device.Token, confirmRequest{Code: created.Code})
	if status != http.StatusConflict {
		t.Fatalf("second confirm: status = %d, want 409", status)
	}
	if env.Error == nil || env.Error.Code != "already_confirmed" {
		t.Fatalf("env = %+v", env)
	}
}

func TestWebLoginConfirmUnknownCode(t *testing.T) {
	e := newTestEnv(t, pairing.DefaultConfig())
	device := e.signIn(t, "mai", "MOBILE")

	status, env := doJSON(t, http.MethodPost, e.ts.URL+"/qr-login/confirm", device.Token, confirmRequest{Code: "ZZZZZZZZ"})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if env.Error == nil || env.Error.Code != "not_found" {
		t.Fatalf("env = %+v", env)
	}
}

func TestWebLoginConfirmExpired(t *testing.T) {
	cfg := pairing.DefaultConfig()
	cfg.TTL = 10 * time.Millisecond
	e := newTestEnv(t, cfg)
	device := e.signIn(t, "mai", "MOBILE")

	_, env := doJSON(t, http.MethodPost, e.ts.URL+"/qr-login/create", "", nil)
	var created ticketCreatedResponse
	dataAs(t, env, &created)

	time.Sleep(30 * time.Millisecond)

	status, env := doJSON(t, http.MethodPost, e.ts.URL+"/qr-login/confirm", device.Token, confirmRequest{Code: created.Code})
	if status != http.StatusGone {
		t.Fatalf("status = %d, want 410", status)
	}
	if env.Error == nil || env.Error.Code != "expired" {
		t.Fatalf("env = %+v", env)
	}

	// Polling sees the derived Expired state, not an error.
	status, env = doJSON(t, http.MethodGet, e.ts.URL+"/qr-login/status/"+created.TicketID, "", nil)
	if status != http.StatusOK {
		t.Fatalf("status poll: %d", status)
	}
	var st ticketStatusResponse
	dataAs(t, env, &st)
	if st.Status != string(pairing.StatusExpired) {
		t.Fatalf("status = %+v", st)
	}
}

func TestWebToMobileFlow(t *testing.T) {
	e := newTestEnv(t, pairing.DefaultConfig())
	web := e.signIn(t, "an.tran", "WEB", "ADMIN")

	// Create requires the signed-in web session.
	if status, _ := doJSON(t, http.MethodPost, e.ts.URL+"/web-to-mobile-qr/create", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create: status = %d, want 401", status)
	}

	status, env := doJSON(t, http.MethodPost, e.ts.URL+"/web-to-mobile-qr/create", web.Token, nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("create: status=%d env=%+v", status, env)
	}
	var created ticketCreatedResponse
	dataAs(t, env, &created)

	// The anonymous device confirms and receives a session as the source identity.
	status, env = doJSON(t, http.MethodPost, e.ts.URL+"/web-to-mobile-qr/confirm", "", confirmRequest{Code: created.Code})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("confirm: status=%d env=%+v", status, env)
	}
	var confirmed ticketConfirmedResponse
	dataAs(t, env, &confirmed)
	if confirmed.Grant == nil {
		t.Fatalf("confirm returned no grant")
	}
	if confirmed.Grant.Username != "an.tran" {
		t.Fatalf("grant username = %q, want source identity", confirmed.Grant.Username)
	}
	if !e.reg.Exists(confirmed.Grant.SessionID) {
		t.Fatalf("minted session not live in the registry")
	}

	sess, err := e.reg.Get(confirmed.Grant.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Platform != "MOBILE" {
		t.Fatalf("platform = %q, want default MOBILE", sess.Platform)
	}
}

func TestStatusUnknownTicket(t *testing.T) {
	e := newTestEnv(t, pairing.DefaultConfig())

	status, env := doJSON(t, http.MethodGet, e.ts.URL+"/qr-login/status/doesnotexist", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if env.Error == nil || env.Error.Code != "not_found" {
		t.Fatalf("env = %+v", env)
	}
}
