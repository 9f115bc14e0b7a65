package app

import (
	"net/http"
	"time"
)

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireStore && a.stores.Backend == BackendMemory {
			http.Error(w, "store not configured", http.StatusServiceUnavailable)
			return
		}

		if err := a.stores.Ping(r.Context(), 2*time.Second); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.store.not_ready", "backend", a.stores.Backend, "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", metricsHandler(a.registry))

	a.auth.Register(mux)
}
