package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-mscan/internal/logging"
)

// Route is an extra handler served next to /metrics and /ready.
type Route struct {
	Pattern string
	Handler http.Handler
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	if !IsReady() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready\n"))
}

// Handler returns the mux served by StartHTTP.
func Handler(routes ...Route) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", readyHandler)
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}
	return mux
}

// StartHTTP serves Handler(routes...) on addr in the background.
func StartHTTP(addr string, routes ...Route) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler(routes...)}
	l := logging.For("metrics")
	go func() {
		l.Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
