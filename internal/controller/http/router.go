package controller

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/karalabe/rabbitfence/internal/telemetry"
)

// NewRouter mounts the health and metrics endpoints of the daemon.
func NewRouter(router *httprouter.Router) *httprouter.Router {
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Handler(http.MethodGet, "/metrics", telemetry.MetricsHandler())

	return router
}
