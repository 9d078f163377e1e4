// Package openapi serves the gateway's API document. The surface is fixed,
// so the document is authored by hand, validated at startup, and served
// verbatim.
package openapi

import (
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

// Handler serves the validated OpenAPI document as JSON.
type Handler struct {
	doc  *openapi3.T
	json []byte
}

// New loads and validates the embedded document. A malformed document is a
// build defect, so this fails hard at startup rather than at serve time.
func New() (*Handler, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}

	rendered, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("render openapi document: %w", err)
	}
	return &Handler{doc: doc, json: rendered}, nil
}

// ServeSpec writes the document.
func (h *Handler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.json)
}
