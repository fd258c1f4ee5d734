package rest

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"go.uber.org/zap"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// OpenAPIDocument returns the API description served at /v1/openapi.yaml
func OpenAPIDocument() []byte {
	return openAPIDocument
}

// ContractValidator checks requests against the OpenAPI document
type ContractValidator struct {
	doc    *openapi3.T
	router routers.Router
}

// NewContractValidator loads and validates the embedded document
func NewContractValidator() (*ContractValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	return &ContractValidator{doc: doc, router: router}, nil
}

// ValidateRequest reports why r breaks the contract. Paths the document
// does not describe pass through untouched.
func (cv *ContractValidator) ValidateRequest(r *http.Request) error {
	route, pathParams, err := cv.router.FindRoute(r)
	if err != nil {
		if stderrors.Is(err, routers.ErrPathNotFound) || stderrors.Is(err, routers.ErrMethodNotAllowed) {
			return nil
		}
		return err
	}
	return openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError: true,
		},
	})
}

// Middleware rejects requests that break the contract with 400
func (cv *ContractValidator) Middleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := cv.ValidateRequest(r); err != nil {
				logger.Debug("contract violation",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
				writeError(w, r, logger, errContractFailure.WithDetails(map[string]interface{}{
					"reason": err.Error(),
				}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
