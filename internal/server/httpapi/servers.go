package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/featherproxy/feather/internal/server/model"
)

func (api *apiServer) listSourceServers(c *gin.Context) {
	servers, err := api.model.ListSourceServers(c.Request.Context())
	if err != nil {
		api.fail(c, "list source servers", err)
		return
	}
	resp := make([]serverResponse, 0, len(servers))
	for _, s := range servers {
		resp = append(resp, sourceServerToResponse(s))
	}
	c.JSON(http.StatusOK, resp)
}

func (api *apiServer) createSourceServer(c *gin.Context) {
	var req sourceServerRequest
	if !api.bindJSON(c, &req) {
		return
	}
	server, err := api.model.CreateSourceServer(c.Request.Context(), model.SourceServerInput{
		Name:     req.Name,
		Protocol: req.Protocol,
		Host:     req.Host,
		Port:     req.Port,
	})
	if err != nil {
		api.fail(c, "create source server", err)
		return
	}
	c.JSON(http.StatusCreated, sourceServerToResponse(*server))
}

func (api *apiServer) getSourceServer(c *gin.Context) {
	server, err := api.model.GetSourceServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, "get source server", err)
		return
	}
	c.JSON(http.StatusOK, sourceServerToResponse(*server))
}

func (api *apiServer) updateSourceServer(c *gin.Context) {
	var req sourceServerRequest
	if !api.bindJSON(c, &req) {
		return
	}
	server, err := api.model.UpdateSourceServer(c.Request.Context(), c.Param("id"), model.SourceServerInput{
		Name:     req.Name,
		Protocol: req.Protocol,
		Host:     req.Host,
		Port:     req.Port,
	})
	if err != nil {
		api.fail(c, "update source server", err)
		return
	}
	c.JSON(http.StatusOK, sourceServerToResponse(*server))
}

func (api *apiServer) deleteSourceServer(c *gin.Context) {
	if err := api.model.DeleteSourceServer(c.Request.Context(), c.Param("id")); err != nil {
		api.fail(c, "delete source server", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *apiServer) listCandidateTargets(c *gin.Context) {
	targets, err := api.model.ListCandidateTargets(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, "list candidate targets", err)
		return
	}
	resp := make([]serverResponse, 0, len(targets))
	for _, t := range targets {
		resp = append(resp, targetServerToResponse(t))
	}
	c.JSON(http.StatusOK, resp)
}

func (api *apiServer) getServerOptions(c *gin.Context) {
	opts, err := api.model.GetServerOptions(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, "get server options", err)
		return
	}
	c.JSON(http.StatusOK, serverOptionsToResponse(*opts))
}

func (api *apiServer) setServerOptions(c *gin.Context) {
	var req serverOptionsRequest
	if !api.bindJSON(c, &req) {
		return
	}
	opts, err := api.model.SetServerOptions(c.Request.Context(), c.Param("id"), model.ServerOptionsInput{
		TLSCertPath: req.TLSCertPath,
		TLSKeyPath:  req.TLSKeyPath,
	})
	if err != nil {
		api.fail(c, "set server options", err)
		return
	}
	c.JSON(http.StatusOK, serverOptionsToResponse(*opts))
}

func (api *apiServer) getACLOptions(c *gin.Context) {
	acl, err := api.model.GetACLOptions(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, "get acl options", err)
		return
	}
	c.JSON(http.StatusOK, aclToResponse(*acl))
}

func (api *apiServer) setACLOptions(c *gin.Context) {
	var req aclRequest
	if !api.bindJSON(c, &req) {
		return
	}
	acl, err := api.model.SetACLOptions(c.Request.Context(), c.Param("id"), model.ACLInput{
		Mode:           req.Mode,
		ClientIPHeader: req.ClientIPHeader,
		AllowList:      req.AllowList,
		DenyList:       req.DenyList,
	})
	if err != nil {
		api.fail(c, "set acl options", err)
		return
	}
	c.JSON(http.StatusOK, aclToResponse(*acl))
}

func (api *apiServer) listTargetServers(c *gin.Context) {
	servers, err := api.model.ListTargetServers(c.Request.Context())
	if err != nil {
		api.fail(c, "list target servers", err)
		return
	}
	resp := make([]serverResponse, 0, len(servers))
	for _, t := range servers {
		resp = append(resp, targetServerToResponse(t))
	}
	c.JSON(http.StatusOK, resp)
}

func (api *apiServer) createTargetServer(c *gin.Context) {
	var req targetServerRequest
	if !api.bindJSON(c, &req) {
		return
	}
	server, err := api.model.CreateTargetServer(c.Request.Context(), req.input())
	if err != nil {
		api.fail(c, "create target server", err)
		return
	}
	c.JSON(http.StatusCreated, targetServerToResponse(*server))
}

func (api *apiServer) getTargetServer(c *gin.Context) {
	server, err := api.model.GetTargetServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, "get target server", err)
		return
	}
	c.JSON(http.StatusOK, targetServerToResponse(*server))
}

func (api *apiServer) updateTargetServer(c *gin.Context) {
	var req targetServerRequest
	if !api.bindJSON(c, &req) {
		return
	}
	server, err := api.model.UpdateTargetServer(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		api.fail(c, "update target server", err)
		return
	}
	c.JSON(http.StatusOK, targetServerToResponse(*server))
}

func (api *apiServer) deleteTargetServer(c *gin.Context) {
	if err := api.model.DeleteTargetServer(c.Request.Context(), c.Param("id")); err != nil {
		api.fail(c, "delete target server", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r targetServerRequest) input() model.TargetServerInput {
	return model.TargetServerInput{
		Name:     r.Name,
		Protocol: r.Protocol,
		Host:     r.Host,
		Port:     r.Port,
		BasePath: r.BasePath,
	}
}
