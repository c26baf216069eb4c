package http

import (
	"net/http"

	"github.com/go-chi/cors"
)

// HandleWithCORS allows the given origins to call h from a browser. All
// origins are allowed when none is given.
func HandleWithCORS(h http.Handler, origins ...string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	})(h)
}
