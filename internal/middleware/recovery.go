package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"school-admin/pkg/apierror"
)

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				slog.Error("panic recovered",
					"request_id", w.Header().Get(requestIDHeader),
					"error", fmt.Sprintf("%v", recovered),
					"stack", string(debug.Stack()))
				writeErrorJSON(w, http.StatusInternalServerError, apierror.CodeInternal, "Unexpected server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
