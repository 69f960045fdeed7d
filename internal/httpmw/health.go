package httpmw

import "net/http"

// Hello responds to the liveness root endpoint.
func Hello(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Hello"))
}

// Healthz responds to the /healthz probe, distinct from the liveness root so
// load balancers can distinguish "process up" from "accepting traffic".
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Favicon rejects /favicon.ico with 204 per the CDN's external interface.
func Favicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
