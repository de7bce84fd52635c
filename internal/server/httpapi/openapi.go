package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	openapi3 "github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
	"github.com/gin-gonic/gin"

	"github.com/featherproxy/feather/internal/server/events"
)

// serveOpenAPI returns an OpenAPI v3 JSON document generated from the API types.
func (api *apiServer) serveOpenAPI(c *gin.Context) {
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	baseURL := ""
	if c.Request.Host != "" {
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}

	spec, err := BuildOpenAPISpec(baseURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to build openapi: %v", err)})
		return
	}
	c.JSON(http.StatusOK, spec)
}

type endpoint struct {
	method  string
	path    string
	id      string
	summary string
	tag     string
	params  openapi3.Parameters
	body    *openapi3.SchemaRef
	status  int
	result  *openapi3.SchemaRef
	stream  bool
	errors  []int
}

var errorDescriptions = map[int]string{
	http.StatusBadRequest:          "Validation failed",
	http.StatusNotFound:            "Not found",
	http.StatusConflict:            "Conflict with existing configuration",
	http.StatusServiceUnavailable:  "Store or reload trigger unavailable",
	http.StatusInternalServerError: "Internal error",
}

// BuildOpenAPISpec constructs the OpenAPI spec. If baseURL is non-empty, it will be set as the server URL.
func BuildOpenAPISpec(baseURL string) (*openapi3.T, error) {
	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Feather Configuration API",
			Version:     "v1",
			Description: "Operator interface for feather reverse proxy routing configuration.",
		},
		Servers:    openapi3.Servers{},
		Paths:      openapi3.NewPaths(),
		Components: &openapi3.Components{Schemas: openapi3.Schemas{}},
	}
	if baseURL != "" {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: baseURL})
	}

	gen := openapi3gen.NewGenerator(
		openapi3gen.CreateComponentSchemas(openapi3gen.ExportComponentSchemasOptions{
			ExportComponentSchemas: true,
			ExportTopLevelSchema:   false,
			ExportGenerics:         true,
		}),
	)
	schemas := spec.Components.Schemas
	var schemaErr error
	schema := func(v any) *openapi3.SchemaRef {
		ref, err := gen.NewSchemaRefForValue(v, schemas)
		if err != nil && schemaErr == nil {
			schemaErr = fmt.Errorf("schema for %T: %w", v, err)
		}
		return ref
	}

	sourceReq := schema(&sourceServerRequest{})
	targetReq := schema(&targetServerRequest{})
	serverResp := schema(&serverResponse{})
	authReq := schema(&authenticationRequest{})
	authResp := schema(&authenticationResponse{})
	routeReq := schema(&routeRequest{})
	routeResp := schema(&routeResponse{})
	sourceAuthReq := schema(&sourceAuthRequest{})
	sourceAuthResp := schema(&sourceAuthResponse{})
	targetAuthReq := schema(&targetAuthRequest{})
	targetAuthResp := schema(&targetAuthResponse{})
	routeAuthReq := schema(&routeAuthRequest{})
	routeAuthResp := schema(&routeAuthResponse{})
	optionsReq := schema(&serverOptionsRequest{})
	optionsResp := schema(&serverOptionsResponse{})
	aclReq := schema(&aclRequest{})
	aclResp := schema(&aclResponse{})
	snapshotRef := schema(&snapshotResponse{})
	eventRef := schema(&events.ConfigEvent{})
	if schemaErr != nil {
		return nil, schemaErr
	}

	errorSchema := openapi3.NewSchemaRef("", &openapi3.Schema{
		Type: &openapi3.Types{openapi3.TypeObject},
		Properties: map[string]*openapi3.SchemaRef{
			"error": openapi3.NewSchemaRef("", openapi3.NewStringSchema()),
		},
	})
	schemas["Error"] = errorSchema
	statusSchema := openapi3.NewSchemaRef("", &openapi3.Schema{
		Type: &openapi3.Types{openapi3.TypeObject},
		Properties: map[string]*openapi3.SchemaRef{
			"status": openapi3.NewSchemaRef("", openapi3.NewStringSchema()),
		},
	})
	arrayOf := func(item *openapi3.SchemaRef) *openapi3.SchemaRef {
		return openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeArray}, Items: item})
	}

	idParam := openapi3.Parameters{&openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name: "id", In: openapi3.ParameterInPath, Required: true, Schema: openapi3.NewSchemaRef("", openapi3.NewStringSchema()),
	}}}
	query := func(name string) *openapi3.ParameterRef {
		return &openapi3.ParameterRef{Value: &openapi3.Parameter{
			Name: name, In: openapi3.ParameterInQuery, Required: true, Schema: openapi3.NewSchemaRef("", openapi3.NewStringSchema()),
		}}
	}

	read := []int{http.StatusNotFound, http.StatusServiceUnavailable, http.StatusInternalServerError}
	write := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable, http.StatusInternalServerError}

	endpoints := []endpoint{
		{method: http.MethodGet, path: "/healthz", id: "getHealth", summary: "Health check", tag: "health", status: http.StatusOK, result: statusSchema},

		{method: http.MethodGet, path: "/api/v1/source-servers", id: "listSourceServers", summary: "List source servers", tag: "source-servers", status: http.StatusOK, result: arrayOf(serverResp), errors: read},
		{method: http.MethodPost, path: "/api/v1/source-servers", id: "createSourceServer", summary: "Create source server", tag: "source-servers", body: sourceReq, status: http.StatusCreated, result: serverResp, errors: write},
		{method: http.MethodGet, path: "/api/v1/source-servers/{id}", id: "getSourceServer", summary: "Fetch source server", tag: "source-servers", params: idParam, status: http.StatusOK, result: serverResp, errors: read},
		{method: http.MethodPut, path: "/api/v1/source-servers/{id}", id: "updateSourceServer", summary: "Update source server", tag: "source-servers", params: idParam, body: sourceReq, status: http.StatusOK, result: serverResp, errors: write},
		{method: http.MethodDelete, path: "/api/v1/source-servers/{id}", id: "deleteSourceServer", summary: "Delete source server", tag: "source-servers", params: idParam, status: http.StatusNoContent, errors: write},
		{method: http.MethodGet, path: "/api/v1/source-servers/{id}/candidate-targets", id: "listCandidateTargets", summary: "Target servers a route from this source may use", tag: "source-servers", params: idParam, status: http.StatusOK, result: arrayOf(serverResp), errors: read},
		{method: http.MethodGet, path: "/api/v1/source-servers/{id}/options", id: "getServerOptions", summary: "Fetch TLS options", tag: "source-servers", params: idParam, status: http.StatusOK, result: optionsResp, errors: read},
		{method: http.MethodPut, path: "/api/v1/source-servers/{id}/options", id: "setServerOptions", summary: "Replace TLS options", tag: "source-servers", params: idParam, body: optionsReq, status: http.StatusOK, result: optionsResp, errors: write},
		{method: http.MethodGet, path: "/api/v1/source-servers/{id}/acl", id: "getACLOptions", summary: "Fetch client ACL", tag: "source-servers", params: idParam, status: http.StatusOK, result: aclResp, errors: read},
		{method: http.MethodPut, path: "/api/v1/source-servers/{id}/acl", id: "setACLOptions", summary: "Replace client ACL", tag: "source-servers", params: idParam, body: aclReq, status: http.StatusOK, result: aclResp, errors: write},

		{method: http.MethodGet, path: "/api/v1/target-servers", id: "listTargetServers", summary: "List target servers", tag: "target-servers", status: http.StatusOK, result: arrayOf(serverResp), errors: read},
		{method: http.MethodPost, path: "/api/v1/target-servers", id: "createTargetServer", summary: "Create target server", tag: "target-servers", body: targetReq, status: http.StatusCreated, result: serverResp, errors: write},
		{method: http.MethodGet, path: "/api/v1/target-servers/{id}", id: "getTargetServer", summary: "Fetch target server", tag: "target-servers", params: idParam, status: http.StatusOK, result: serverResp, errors: read},
		{method: http.MethodPut, path: "/api/v1/target-servers/{id}", id: "updateTargetServer", summary: "Update target server", tag: "target-servers", params: idParam, body: targetReq, status: http.StatusOK, result: serverResp, errors: write},
		{method: http.MethodDelete, path: "/api/v1/target-servers/{id}", id: "deleteTargetServer", summary: "Delete target server", tag: "target-servers", params: idParam, status: http.StatusNoContent, errors: write},

		{method: http.MethodGet, path: "/api/v1/authentications", id: "listAuthentications", summary: "List authentications with masked tokens", tag: "authentications", status: http.StatusOK, result: arrayOf(authResp), errors: read},
		{method: http.MethodPost, path: "/api/v1/authentications", id: "createAuthentication", summary: "Create authentication", tag: "authentications", body: authReq, status: http.StatusCreated, result: authResp, errors: write},
		{method: http.MethodGet, path: "/api/v1/authentications/{id}", id: "getAuthentication", summary: "Fetch authentication", tag: "authentications", params: idParam, status: http.StatusOK, result: authResp, errors: read},
		{method: http.MethodPut, path: "/api/v1/authentications/{id}", id: "updateAuthentication", summary: "Update authentication; omit token to keep it", tag: "authentications", params: idParam, body: authReq, status: http.StatusOK, result: authResp, errors: write},
		{method: http.MethodDelete, path: "/api/v1/authentications/{id}", id: "deleteAuthentication", summary: "Delete authentication and detach it from routes", tag: "authentications", params: idParam, status: http.StatusNoContent, errors: write},

		{method: http.MethodGet, path: "/api/v1/routes", id: "listRoutes", summary: "List routes", tag: "routes", status: http.StatusOK, result: arrayOf(routeResp), errors: read},
		{method: http.MethodPost, path: "/api/v1/routes", id: "createRoute", summary: "Create route", tag: "routes", body: routeReq, status: http.StatusCreated, result: routeResp, errors: write},
		{method: http.MethodGet, path: "/api/v1/routes/{id}", id: "getRoute", summary: "Fetch route", tag: "routes", params: idParam, status: http.StatusOK, result: routeResp, errors: read},
		{method: http.MethodPut, path: "/api/v1/routes/{id}", id: "updateRoute", summary: "Update route", tag: "routes", params: idParam, body: routeReq, status: http.StatusOK, result: routeResp, errors: write},
		{method: http.MethodDelete, path: "/api/v1/routes/{id}", id: "deleteRoute", summary: "Delete route and its auth bindings", tag: "routes", params: idParam, status: http.StatusNoContent, errors: write},
		{method: http.MethodGet, path: "/api/v1/routes/{id}/source-auth", id: "getSourceAuth", summary: "Ordered source authentications", tag: "routes", params: idParam, status: http.StatusOK, result: sourceAuthResp, errors: read},
		{method: http.MethodPut, path: "/api/v1/routes/{id}/source-auth", id: "setSourceAuth", summary: "Replace source authentications", tag: "routes", params: idParam, body: sourceAuthReq, status: http.StatusOK, result: sourceAuthResp, errors: write},
		{method: http.MethodGet, path: "/api/v1/routes/{id}/target-auth", id: "getTargetAuth", summary: "Upstream authentication", tag: "routes", params: idParam, status: http.StatusOK, result: targetAuthResp, errors: read},
		{method: http.MethodPut, path: "/api/v1/routes/{id}/target-auth", id: "setTargetAuth", summary: "Set or clear upstream authentication", tag: "routes", params: idParam, body: targetAuthReq, status: http.StatusOK, result: targetAuthResp, errors: write},
		{method: http.MethodGet, path: "/api/v1/routes/{id}/auth", id: "getRouteAuth", summary: "Both auth relations of a route", tag: "routes", params: idParam, status: http.StatusOK, result: routeAuthResp, errors: read},
		{method: http.MethodPut, path: "/api/v1/routes/{id}/auth", id: "setRouteAuth", summary: "Replace auth relations atomically", tag: "routes", params: idParam, body: routeAuthReq, status: http.StatusOK, result: routeAuthResp, errors: write},
		{method: http.MethodGet, path: "/api/v1/resolve", id: "resolveRoute", summary: "Route a request would match", tag: "routes", params: openapi3.Parameters{query("source_server_id"), query("method"), query("path")}, status: http.StatusOK, result: routeResp, errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable}},

		{method: http.MethodGet, path: "/api/v1/snapshot", id: "getSnapshot", summary: "Consistent view of the whole configuration", tag: "config", status: http.StatusOK, result: snapshotRef, errors: read},
		{method: http.MethodPost, path: "/api/v1/reload", id: "requestReload", summary: "Ask the data plane to reload", tag: "config", status: http.StatusAccepted, result: statusSchema, errors: []int{http.StatusServiceUnavailable}},
		{method: http.MethodGet, path: "/api/v1/events", id: "streamConfigEvents", summary: "Stream configuration events (SSE)", tag: "events", status: http.StatusOK, result: eventRef, stream: true, errors: []int{http.StatusServiceUnavailable}},
	}

	for _, ep := range endpoints {
		spec.AddOperation(ep.path, ep.method, ep.operation(errorSchema))
	}
	return spec, nil
}

func (ep endpoint) operation(errorSchema *openapi3.SchemaRef) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.Summary = ep.summary
	op.OperationID = ep.id
	op.Tags = []string{ep.tag}
	op.Parameters = ep.params
	if ep.body != nil {
		op.RequestBody = &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{Required: true, Content: openapi3.NewContentWithJSONSchemaRef(ep.body)}}
	}
	op.Responses = openapi3.NewResponses()
	{
		resp := openapi3.NewResponse().WithDescription(http.StatusText(ep.status))
		switch {
		case ep.result == nil:
		case ep.stream:
			resp.Content = openapi3.Content{"text/event-stream": {Schema: ep.result}}
		default:
			resp.Content = openapi3.NewContentWithJSONSchemaRef(ep.result)
		}
		op.Responses.Set(strconv.Itoa(ep.status), &openapi3.ResponseRef{Value: resp})
	}
	for _, code := range ep.errors {
		resp := openapi3.NewResponse().WithDescription(errorDescriptions[code])
		resp.Content = openapi3.NewContentWithJSONSchemaRef(errorSchema)
		op.Responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{Value: resp})
	}
	return op
}
