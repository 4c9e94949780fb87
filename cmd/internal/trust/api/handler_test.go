package trustapi

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/api"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/trust"
)

func newTestServer(t *testing.T) (*trust.Keyring, *httptest.Server) {
	t.Helper()

	keyring, err := trust.NewKeyring(nil, trust.DefaultConfig())
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	h, err := NewHandler(nil, keyring)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return keyring, ts
}

func doJSON(t *testing.T, method, url string, body any) (int, api.Response) {
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

func clientKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	return priv, base64.StdEncoding.EncodeToString(der)
}

func TestServerPublicKey(t *testing.T) {
	keyring, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodGet, ts.URL+"/security/server-public-key", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("status=%d env=%+v", status, env)
	}

	var data serverPublicKeyResponse
	dataAs(t, env, &data)
	if data.PublicKey != keyring.ServerPublicKeyBase64() {
		t.Fatalf("publicKey mismatch")
	}
	if _, err := trust.ParsePublicKeyBase64(data.PublicKey); err != nil {
		t.Fatalf("served key does not parse: %v", err)
	}
}

func TestRegisterAndEncryptForClient(t *testing.T) {
	_, ts := newTestServer(t)

	priv, pubB64 := clientKeyPair(t)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/security/register-client-key", registerClientKeyRequest{
		ClientID:  "device-1",
		PublicKey: pubB64,
	})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("register: status=%d env=%+v", status, env)
	}

	status, env = doJSON(t, http.MethodPost, ts.URL+"/security/encrypt-for-client", encryptForClientRequest{
		ClientID:  "device-1",
		Plaintext: "ping from the server",
	})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("encrypt: status=%d env=%+v", status, env)
	}

	var wire encryptedEnvelope
	dataAs(t, env, &wire)

	decoded, err := decodeEnvelope(wire)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	plain, err := trust.Decrypt(decoded, priv)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plain) != "ping from the server" {
		t.Fatalf("plaintext = %q", plain)
	}
}

func TestEncryptForUnknownClient(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/security/encrypt-for-client", encryptForClientRequest{
		ClientID:  "never-registered",
		Plaintext: "hello",
	})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if env.Success || env.Error == nil || env.Error.Code != "unknown_client" {
		t.Fatalf("env = %+v", env)
	}
}

func TestRegisterRejectsGarbageKey(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/security/register-client-key", registerClientKeyRequest{
		ClientID:  "device-1",
		PublicKey: base64.StdEncoding.EncodeToString([]byte("not a key")),
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if env.Error == nil || env.Error.Code != "invalid_key" {
		t.Fatalf("env = %+v", env)
	}
}

func TestDecryptEchoRoundTrip(t *testing.T) {
	keyring, ts := newTestServer(t)

	serverPub, err := trust.ParsePublicKeyBase64(keyring.ServerPublicKeyBase64())
	if err != nil {
		t.Fatalf("parse server key: %v", err)
	}
	sealed, err := trust.Encrypt([]byte(`{"card":"4111"}`), serverPub, 32)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	status, env := doJSON(t, http.MethodPost, ts.URL+"/security/decrypt-echo", encodeEnvelope(sealed))
	if status != http.StatusOK || !env.Success {
		t.Fatalf("status=%d env=%+v", status, env)
	}

	var data decryptEchoResponse
	dataAs(t, env, &data)
	if data.Plaintext != `{"card":"4111"}` {
		t.Fatalf("plaintext = %q", data.Plaintext)
	}
}

func TestDecryptEchoTamperedCiphertext(t *testing.T) {
	keyring, ts := newTestServer(t)

	serverPub, err := trust.ParsePublicKeyBase64(keyring.ServerPublicKeyBase64())
	if err != nil {
		t.Fatalf("parse server key: %v", err)
	}
	sealed, err := trust.Encrypt([]byte("secret"), serverPub, 32)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	sealed.CipherData[0] ^= 0x01

	status, env := doJSON(t, http.MethodPost, ts.URL+"/security/decrypt-echo", encodeEnvelope(sealed))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if env.Error == nil || env.Error.Code != "decryption_failed" {
		t.Fatalf("env = %+v", env)
	}
}

func TestDecryptEchoRejectsBadBase64(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/security/decrypt-echo", encryptedEnvelope{
		EncryptedKeyBlock: "%%% not base64 %%%",
		CipherData:        "also not",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if env.Error == nil || env.Error.Code != "invalid_request" {
		t.Fatalf("env = %+v", env)
	}
}

func TestRegisterRequiresClientID(t *testing.T) {
	_, ts := newTestServer(t)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/security/register-client-key", registerClientKeyRequest{
		PublicKey: "Zm9v",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if env.Error == nil || env.Error.Code != "invalid_request" {
		t.Fatalf("env = %+v", env)
	}
}
