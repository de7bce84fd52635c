package httpapi

import (
	"time"

	"github.com/featherproxy/feather/internal/server/db"
	"github.com/featherproxy/feather/internal/server/model"
)

type sourceServerRequest struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

type targetServerRequest struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	BasePath string `json:"base_path"`
}

type serverResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	Protocol  string    `json:"protocol"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	BasePath  string    `json:"base_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func sourceServerToResponse(s db.SourceServer) serverResponse {
	return serverResponse{
		ID:        s.ID,
		Name:      s.Name,
		Label:     model.DisplayLabel(s.Name, s.Host, s.Port),
		Protocol:  s.Protocol,
		Host:      s.Host,
		Port:      s.Port,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func targetServerToResponse(t db.TargetServer) serverResponse {
	return serverResponse{
		ID:        t.ID,
		Name:      t.Name,
		Label:     model.DisplayLabel(t.Name, t.Host, t.Port),
		Protocol:  t.Protocol,
		Host:      t.Host,
		Port:      t.Port,
		BasePath:  t.BasePath,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

type authenticationRequest struct {
	Name      string `json:"name"`
	TokenType string `json:"token_type"`
	// Token is required on create. On update, omitting it keeps the stored
	// secret.
	Token *string `json:"token"`
}

type authenticationResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TokenType   string    `json:"token_type"`
	TokenMasked string    `json:"token_masked"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func authenticationToResponse(a model.Authentication) authenticationResponse {
	return authenticationResponse{
		ID:          a.ID,
		Name:        a.Name,
		TokenType:   a.TokenType,
		TokenMasked: a.TokenMasked,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

type routeRequest struct {
	SourceServerID string `json:"source_server_id"`
	TargetServerID string `json:"target_server_id"`
	Method         string `json:"method"`
	SourcePath     string `json:"source_path"`
	TargetPath     string `json:"target_path"`
}

func (r routeRequest) input() model.RouteInput {
	return model.RouteInput{
		SourceServerID: r.SourceServerID,
		TargetServerID: r.TargetServerID,
		Method:         r.Method,
		SourcePath:     r.SourcePath,
		TargetPath:     r.TargetPath,
	}
}

type routeResponse struct {
	ID             string    `json:"id"`
	SourceServerID string    `json:"source_server_id"`
	TargetServerID string    `json:"target_server_id"`
	Method         string    `json:"method"`
	SourcePath     string    `json:"source_path"`
	TargetPath     string    `json:"target_path"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func routeToResponse(r db.Route) routeResponse {
	return routeResponse{
		ID:             r.ID,
		SourceServerID: r.SourceServerID,
		TargetServerID: r.TargetServerID,
		Method:         r.Method,
		SourcePath:     r.SourcePath,
		TargetPath:     r.TargetPath,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type sourceAuthRequest struct {
	AuthenticationIDs []string `json:"authentication_ids"`
}

type sourceAuthResponse struct {
	RouteID           string   `json:"route_id"`
	AuthenticationIDs []string `json:"authentication_ids"`
}

type targetAuthRequest struct {
	// AuthenticationID null or "" clears the target auth.
	AuthenticationID *string `json:"authentication_id"`
}

type targetAuthResponse struct {
	RouteID          string  `json:"route_id"`
	AuthenticationID *string `json:"authentication_id"`
}

type routeAuthRequest struct {
	SourceAuthIDs *[]string `json:"source_auth_ids"`
	TargetAuthID  *string   `json:"target_auth_id"`
}

type routeAuthResponse struct {
	RouteID       string   `json:"route_id"`
	SourceAuthIDs []string `json:"source_auth_ids"`
	TargetAuthID  *string  `json:"target_auth_id"`
}

func routeAuthToResponse(state *model.RouteAuth) routeAuthResponse {
	return routeAuthResponse{
		RouteID:       state.RouteID,
		SourceAuthIDs: nonNil(state.SourceAuthIDs),
		TargetAuthID:  optional(state.TargetAuthID),
	}
}

type serverOptionsRequest struct {
	TLSCertPath string `json:"tls_cert_path"`
	TLSKeyPath  string `json:"tls_key_path"`
}

type serverOptionsResponse struct {
	SourceServerID string     `json:"source_server_id"`
	TLSCertPath    string     `json:"tls_cert_path"`
	TLSKeyPath     string     `json:"tls_key_path"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

func serverOptionsToResponse(o db.ServerOptions) serverOptionsResponse {
	return serverOptionsResponse{
		SourceServerID: o.SourceServerID,
		TLSCertPath:    o.TLSCertPath,
		TLSKeyPath:     o.TLSKeyPath,
		UpdatedAt:      optionalTime(o.UpdatedAt),
	}
}

type aclRequest struct {
	Mode           string   `json:"mode"`
	ClientIPHeader string   `json:"client_ip_header"`
	AllowList      []string `json:"allow_list"`
	DenyList       []string `json:"deny_list"`
}

type aclResponse struct {
	SourceServerID string     `json:"source_server_id"`
	Mode           string     `json:"mode"`
	ClientIPHeader string     `json:"client_ip_header"`
	AllowList      []string   `json:"allow_list"`
	DenyList       []string   `json:"deny_list"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

func aclToResponse(o db.ACLOptions) aclResponse {
	return aclResponse{
		SourceServerID: o.SourceServerID,
		Mode:           o.Mode,
		ClientIPHeader: o.ClientIPHeader,
		AllowList:      nonNil(o.AllowList),
		DenyList:       nonNil(o.DenyList),
		UpdatedAt:      optionalTime(o.UpdatedAt),
	}
}

type snapshotRoute struct {
	routeResponse
	SourceAuthIDs []string `json:"source_auth_ids"`
	TargetAuthID  *string  `json:"target_auth_id"`
}

type snapshotResponse struct {
	TakenAt         time.Time                `json:"taken_at"`
	SourceServers   []serverResponse         `json:"source_servers"`
	TargetServers   []serverResponse         `json:"target_servers"`
	Authentications []authenticationResponse `json:"authentications"`
	Routes          []snapshotRoute          `json:"routes"`
	ServerOptions   []serverOptionsResponse  `json:"server_options"`
	ACLOptions      []aclResponse            `json:"acl_options"`
}

func snapshotToResponse(s *model.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		TakenAt:         s.TakenAt,
		SourceServers:   make([]serverResponse, 0, len(s.SourceServers)),
		TargetServers:   make([]serverResponse, 0, len(s.TargetServers)),
		Authentications: make([]authenticationResponse, 0, len(s.Authentications)),
		Routes:          make([]snapshotRoute, 0, len(s.Routes)),
		ServerOptions:   make([]serverOptionsResponse, 0, len(s.ServerOptions)),
		ACLOptions:      make([]aclResponse, 0, len(s.ACLOptions)),
	}
	for _, v := range s.SourceServers {
		resp.SourceServers = append(resp.SourceServers, sourceServerToResponse(v))
	}
	for _, v := range s.TargetServers {
		resp.TargetServers = append(resp.TargetServers, targetServerToResponse(v))
	}
	for _, v := range s.Authentications {
		resp.Authentications = append(resp.Authentications, authenticationToResponse(v))
	}
	for _, v := range s.Routes {
		resp.Routes = append(resp.Routes, snapshotRoute{
			routeResponse: routeToResponse(v.Route),
			SourceAuthIDs: nonNil(v.SourceAuthIDs),
			TargetAuthID:  optional(v.TargetAuthID),
		})
	}
	for _, v := range s.ServerOptions {
		resp.ServerOptions = append(resp.ServerOptions, serverOptionsToResponse(v))
	}
	for _, v := range s.ACLOptions {
		resp.ACLOptions = append(resp.ACLOptions, aclToResponse(v))
	}
	return resp
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func optional(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
