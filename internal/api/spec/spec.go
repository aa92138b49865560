// Package spec embeds the OpenAPI document served at /openapi.yaml.
package spec

import (
	_ "embed"
	"net/http"
)

//go:embed openapi.yaml
var openapi []byte

// OpenAPIHandler serves the embedded OpenAPI document.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(openapi)
	}
}

