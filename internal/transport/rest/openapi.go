package rest

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPISpec is the validated API contract, served as the raw YAML it was loaded from.
type OpenAPISpec struct {
	Doc *openapi3.T
	raw []byte
}

// LoadOpenAPISpec reads and validates the contract at path. The server refuses to
// start on an invalid document.
func LoadOpenAPISpec(ctx context.Context, path string) (*OpenAPISpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read openapi spec: %w", err)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("parse openapi spec: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi spec: %w", err)
	}
	return &OpenAPISpec{Doc: doc, raw: raw}, nil
}

func (s *OpenAPISpec) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.raw)
}
