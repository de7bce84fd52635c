package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/featherproxy/feather/internal/server/model"
)

func (api *apiServer) listRoutes(c *gin.Context) {
	routes, err := api.model.ListRoutes(c.Request.Context())
	if err != nil {
		api.fail(c, "list routes", err)
		return
	}
	resp := make([]routeResponse, 0, len(routes))
	for _, r := range routes {
		resp = append(resp, routeToResponse(r))
	}
	c.JSON(http.StatusOK, resp)
}

func (api *apiServer) createRoute(c *gin.Context) {
	var req routeRequest
	if !api.bindJSON(c, &req) {
		return
	}
	route, err := api.model.CreateRoute(c.Request.Context(), req.input())
	if err != nil {
		api.fail(c, "create route", err)
		return
	}
	c.JSON(http.StatusCreated, routeToResponse(*route))
}

func (api *apiServer) getRoute(c *gin.Context) {
	route, err := api.model.GetRoute(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, "get route", err)
		return
	}
	c.JSON(http.StatusOK, routeToResponse(*route))
}

func (api *apiServer) updateRoute(c *gin.Context) {
	var req routeRequest
	if !api.bindJSON(c, &req) {
		return
	}
	route, err := api.model.UpdateRoute(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		api.fail(c, "update route", err)
		return
	}
	c.JSON(http.StatusOK, routeToResponse(*route))
}

func (api *apiServer) deleteRoute(c *gin.Context) {
	if err := api.model.DeleteRoute(c.Request.Context(), c.Param("id")); err != nil {
		api.fail(c, "delete route", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// resolveRoute answers which route a (source server, method, path) request
// would hit.
func (api *apiServer) resolveRoute(c *gin.Context) {
	route, err := api.model.ResolveRoute(c.Request.Context(), c.Query("source_server_id"), c.Query("method"), c.Query("path"))
	if err != nil {
		api.fail(c, "resolve route", err)
		return
	}
	c.JSON(http.StatusOK, routeToResponse(*route))
}

func (api *apiServer) getSourceAuth(c *gin.Context) {
	routeID := c.Param("id")
	ids, err := api.model.GetSourceAuths(c.Request.Context(), routeID)
	if err != nil {
		api.fail(c, "get source auth", err)
		return
	}
	c.JSON(http.StatusOK, sourceAuthResponse{RouteID: routeID, AuthenticationIDs: nonNil(ids)})
}

func (api *apiServer) setSourceAuth(c *gin.Context) {
	var req sourceAuthRequest
	if !api.bindJSON(c, &req) {
		return
	}
	routeID := c.Param("id")
	ctx := c.Request.Context()
	if err := api.model.SetSourceAuths(ctx, routeID, nonNil(req.AuthenticationIDs)); err != nil {
		api.fail(c, "set source auth", err)
		return
	}
	ids, err := api.model.GetSourceAuths(ctx, routeID)
	if err != nil {
		api.fail(c, "get source auth", err)
		return
	}
	c.JSON(http.StatusOK, sourceAuthResponse{RouteID: routeID, AuthenticationIDs: nonNil(ids)})
}

func (api *apiServer) getTargetAuth(c *gin.Context) {
	routeID := c.Param("id")
	id, _, err := api.model.GetTargetAuth(c.Request.Context(), routeID)
	if err != nil {
		api.fail(c, "get target auth", err)
		return
	}
	c.JSON(http.StatusOK, targetAuthResponse{RouteID: routeID, AuthenticationID: optional(id)})
}

func (api *apiServer) setTargetAuth(c *gin.Context) {
	var req targetAuthRequest
	if !api.bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	routeID := c.Param("id")
	if err := api.model.SetTargetAuth(ctx, routeID, req.AuthenticationID); err != nil {
		api.fail(c, "set target auth", err)
		return
	}
	id, _, err := api.model.GetTargetAuth(ctx, routeID)
	if err != nil {
		api.fail(c, "get target auth", err)
		return
	}
	c.JSON(http.StatusOK, targetAuthResponse{RouteID: routeID, AuthenticationID: optional(id)})
}

func (api *apiServer) getRouteAuth(c *gin.Context) {
	state, err := api.model.GetRouteAuth(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, "get route auth", err)
		return
	}
	c.JSON(http.StatusOK, routeAuthToResponse(state))
}

func (api *apiServer) setRouteAuth(c *gin.Context) {
	var req routeAuthRequest
	if !api.bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	routeID := c.Param("id")
	update := model.RouteAuthUpdate{SourceAuthIDs: req.SourceAuthIDs, TargetAuthID: req.TargetAuthID}
	if err := api.model.SetRouteAuth(ctx, routeID, update); err != nil {
		api.fail(c, "set route auth", err)
		return
	}
	state, err := api.model.GetRouteAuth(ctx, routeID)
	if err != nil {
		api.fail(c, "get route auth", err)
		return
	}
	c.JSON(http.StatusOK, routeAuthToResponse(state))
}

func (api *apiServer) snapshot(c *gin.Context) {
	snap, err := api.model.Snapshot(c.Request.Context())
	if err != nil {
		api.fail(c, "snapshot", err)
		return
	}
	c.JSON(http.StatusOK, snapshotToResponse(snap))
}

func (api *apiServer) reload(c *gin.Context) {
	if err := api.model.Reload(c.Request.Context()); err != nil {
		api.fail(c, "reload", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "reloading"})
}
