package openapiutil

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation is one method on one path of the featherd API.
type Operation struct {
	OperationID string
	Method      string
	Path        string
	Summary     string
	Tags        []string
	Parameters  []Parameter
	HasBody     bool
	Responses   []string
}

// Parameter captures relevant parameter metadata from the document.
type Parameter struct {
	Name        string
	In          string
	Required    bool
	Description string
}

// ParseDocument loads an OpenAPI document from raw bytes.
func ParseDocument(data []byte) (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: load: %w", err)
	}
	return doc, nil
}

// Validate checks the document against the OpenAPI 3 rules kin-openapi knows.
func Validate(ctx context.Context, doc *openapi3.T) error {
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("openapi: validate: %w", err)
	}
	return nil
}

var methodOrder = []string{
	http.MethodGet,
	http.MethodPut,
	http.MethodPost,
	http.MethodDelete,
	http.MethodPatch,
	http.MethodHead,
	http.MethodOptions,
	http.MethodTrace,
}

// ListOperations flattens every operation, ordered by path then method.
func ListOperations(doc *openapi3.T) []Operation {
	var ops []Operation
	if doc == nil || doc.Paths == nil {
		return ops
	}

	for path, item := range doc.Paths.Map() {
		if item == nil {
			continue
		}
		pathParams := collectParameters(item.Parameters)
		for _, method := range methodOrder {
			op := item.GetOperation(method)
			if op == nil {
				continue
			}
			entry := Operation{
				OperationID: op.OperationID,
				Method:      method,
				Path:        path,
				Summary:     op.Summary,
				Tags:        op.Tags,
				Parameters:  append(collectParameters(op.Parameters), pathParams...),
				HasBody:     op.RequestBody != nil,
			}
			if op.Responses != nil {
				for code := range op.Responses.Map() {
					entry.Responses = append(entry.Responses, code)
				}
				sort.Strings(entry.Responses)
			}
			ops = append(ops, entry)
		}
	}

	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Path != ops[j].Path {
			return ops[i].Path < ops[j].Path
		}
		return methodRank(ops[i].Method) < methodRank(ops[j].Method)
	})
	return ops
}

// FindOperation locates an operation by operationId (case insensitive) or a
// "METHOD:PATH" token.
func FindOperation(doc *openapi3.T, token string) (*Operation, error) {
	ops := ListOperations(doc)
	normalized := strings.ToLower(strings.TrimSpace(token))
	for i := range ops {
		if ops[i].OperationID != "" && strings.ToLower(ops[i].OperationID) == normalized {
			return &ops[i], nil
		}
	}

	if method, path, ok := strings.Cut(strings.TrimSpace(token), ":"); ok {
		method = strings.ToUpper(strings.TrimSpace(method))
		path = strings.TrimSpace(path)
		for i := range ops {
			if ops[i].Method == method && strings.EqualFold(ops[i].Path, path) {
				return &ops[i], nil
			}
		}
	}

	return nil, fmt.Errorf("operation %q not found", token)
}

// RequiredParameters returns the names of required parameters in location.
func RequiredParameters(op *Operation, location string) []string {
	if op == nil {
		return nil
	}
	var result []string
	for _, param := range op.Parameters {
		if strings.EqualFold(param.In, location) && param.Required {
			result = append(result, param.Name)
		}
	}
	return result
}

func methodRank(method string) int {
	for i, m := range methodOrder {
		if m == method {
			return i
		}
	}
	return len(methodOrder)
}

func collectParameters(refs openapi3.Parameters) []Parameter {
	params := make([]Parameter, 0, len(refs))
	for _, ref := range refs {
		if ref == nil || ref.Value == nil {
			continue
		}
		params = append(params, Parameter{
			Name:        ref.Value.Name,
			In:          ref.Value.In,
			Required:    ref.Value.Required,
			Description: ref.Value.Description,
		})
	}
	return params
}
