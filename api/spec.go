package api

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed api.yaml
var rawSpec []byte

var (
	specOnce sync.Once
	spec     *openapi3.T
	specErr  error
)

// GetSwagger parses and validates the embedded OpenAPI document. The result
// is cached; callers must not modify it.
func GetSwagger() (*openapi3.T, error) {
	specOnce.Do(func() {
		loader := openapi3.NewLoader()

		doc, err := loader.LoadFromData(rawSpec)
		if err != nil {
			specErr = fmt.Errorf("loading openapi document: %w", err)
			return
		}

		err = doc.Validate(loader.Context)
		if err != nil {
			specErr = fmt.Errorf("validating openapi document: %w", err)
			return
		}

		spec = doc
	})

	return spec, specErr
}
