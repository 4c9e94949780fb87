package app

import (
	"net/http"

	authapi "github.com/ntd280804/mobile-service-system-sub001/cmd/internal/auth/api"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/metrics"
	pairingapi "github.com/ntd280804/mobile-service-system-sub001/cmd/internal/pairing/api"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/realtime"
	trustapi "github.com/ntd280804/mobile-service-system-sub001/cmd/internal/trust/api"
)

func registerHTTP(
	mux *http.ServeMux,
	m *metrics.Metrics,
	gateway *realtime.Gateway,
	trust *trustapi.Handler,
	pairing *pairingapi.Handler,
	auth *authapi.Handler,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	// Everything is in-process; readiness equals liveness here but the
	// route stays so deploy manifests need no special casing.
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	trust.Register(mux)
	pairing.Register(mux)
	auth.Register(mux)

	mux.HandleFunc("/ws", gateway.HandleWS)
}
