package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/guarzo/wanderer-kills/internal/websocket/models"
	"github.com/guarzo/wanderer-kills/internal/websocket/services"
)

// Routes exposes the websocket info endpoint.
type Routes struct {
	hub *services.Hub
}

// NewRoutes creates a new Routes instance.
func NewRoutes(hub *services.Hub) *Routes {
	return &Routes{hub: hub}
}

// InfoOutput wraps the websocket connection info.
type InfoOutput struct {
	Body InfoResponse
}

// InfoResponse describes how to reach the websocket channel.
type InfoResponse struct {
	Endpoint          string   `json:"endpoint" doc:"WebSocket endpoint path"`
	Channel           string   `json:"channel" doc:"Channel name to join"`
	Actions           []string `json:"actions" doc:"Supported client actions"`
	ActiveConnections int      `json:"active_connections" doc:"Currently open connections"`
}

// RegisterRoutes registers the websocket info endpoint.
func (r *Routes) RegisterRoutes(api huma.API, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID: "getWebSocketInfo",
		Method:      http.MethodGet,
		Path:        basePath + "/websocket",
		Summary:     "Get websocket connection info",
		Description: "Describes the websocket endpoint, channel, and supported actions",
		Tags:        []string{"WebSocket"},
	}, r.GetInfo)
}

// GetInfo returns the websocket connection info.
func (r *Routes) GetInfo(ctx context.Context, input *struct{}) (*InfoOutput, error) {
	return &InfoOutput{
		Body: InfoResponse{
			Endpoint: "/socket",
			Channel:  models.LobbyChannel,
			Actions: []string{
				models.ActionJoin,
				models.ActionSubscribeSystems,
				models.ActionUnsubscribeSystems,
				models.ActionSubscribeCharacters,
				models.ActionUnsubscribeCharacters,
			},
			ActiveConnections: r.hub.ConnectionCount(),
		},
	}, nil
}
