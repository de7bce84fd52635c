package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/featherproxy/feather/internal/server/model"
)

func (api *apiServer) listAuthentications(c *gin.Context) {
	auths, err := api.model.ListAuthentications(c.Request.Context())
	if err != nil {
		api.fail(c, "list authentications", err)
		return
	}
	resp := make([]authenticationResponse, 0, len(auths))
	for _, a := range auths {
		resp = append(resp, authenticationToResponse(a))
	}
	c.JSON(http.StatusOK, resp)
}

func (api *apiServer) createAuthentication(c *gin.Context) {
	var req authenticationRequest
	if !api.bindJSON(c, &req) {
		return
	}
	in := model.AuthInput{Name: req.Name, TokenType: req.TokenType}
	if req.Token != nil {
		in.Token = *req.Token
	}
	auth, err := api.model.CreateAuthentication(c.Request.Context(), in)
	if err != nil {
		api.fail(c, "create authentication", err)
		return
	}
	c.JSON(http.StatusCreated, authenticationToResponse(*auth))
}

func (api *apiServer) getAuthentication(c *gin.Context) {
	auth, err := api.model.GetAuthentication(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, "get authentication", err)
		return
	}
	c.JSON(http.StatusOK, authenticationToResponse(*auth))
}

func (api *apiServer) updateAuthentication(c *gin.Context) {
	var req authenticationRequest
	if !api.bindJSON(c, &req) {
		return
	}
	update := model.AuthUpdate{Name: req.Name, TokenType: req.TokenType, Token: model.KeepToken()}
	if req.Token != nil {
		update.Token = model.ReplaceToken(*req.Token)
	}
	auth, err := api.model.UpdateAuthentication(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		api.fail(c, "update authentication", err)
		return
	}
	c.JSON(http.StatusOK, authenticationToResponse(*auth))
}

func (api *apiServer) deleteAuthentication(c *gin.Context) {
	if err := api.model.DeleteAuthentication(c.Request.Context(), c.Param("id")); err != nil {
		api.fail(c, "delete authentication", err)
		return
	}
	c.Status(http.StatusNoContent)
}
