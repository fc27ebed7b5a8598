package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerInfoRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getServerInfo",
		Method:      http.MethodGet,
		Path:        "/api",
		Summary:     "Server info",
		Description: "Returns the server name, version and the resource roots it serves",
		Tags:        []string{"Info"},
	}, s.handleServerInfo)
}

// InfoResponse describes the running server.
type InfoResponse struct {
	Name       string            `json:"name" doc:"Server name"`
	Version    string            `json:"version" doc:"API version"`
	TimeZone   string            `json:"time_zone" doc:"Zone calendar dates are resolved in"`
	ServerTime time.Time         `json:"server_time" doc:"Current server time"`
	Endpoints  map[string]string `json:"endpoints" doc:"Resource roots"`
}

// InfoOutput wraps the info response for Huma.
type InfoOutput struct {
	Body InfoResponse
}

func (s *Server) handleServerInfo(_ context.Context, _ *struct{}) (*InfoOutput, error) {
	return &InfoOutput{
		Body: InfoResponse{
			Name:       s.name,
			Version:    APIVersion,
			TimeZone:   s.location.String(),
			ServerTime: time.Now().In(s.location),
			Endpoints: map[string]string{
				"books":        "/api/books",
				"categories":   "/api/categories",
				"borrowers":    "/api/borrowers",
				"transactions": "/api/transactions",
				"reports":      "/api/reports/overdue-summary",
				"events":       "/api/events",
				"health":       "/api/health",
				"openapi":      "/openapi.json",
			},
		},
	}, nil
}
