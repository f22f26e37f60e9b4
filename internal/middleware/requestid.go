package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

// RequestID assigns a random id to each request that does not already carry
// one, so error responses can be correlated with server logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			b := make([]byte, 8)
			rand.Read(b)
			r.Header.Set("X-Request-ID", hex.EncodeToString(b))
		}
		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))
		next.ServeHTTP(w, r)
	})
}
