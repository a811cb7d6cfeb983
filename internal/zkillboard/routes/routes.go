package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/guarzo/wanderer-kills/internal/zkillboard/services"
)

// Routes exposes the stream consumer status endpoint.
type Routes struct {
	consumer *services.Consumer
}

// NewRoutes creates a new Routes instance.
func NewRoutes(consumer *services.Consumer) *Routes {
	return &Routes{consumer: consumer}
}

// StreamStatusOutput wraps the consumer status snapshot.
type StreamStatusOutput struct {
	Body services.ConsumerStatus
}

// RegisterRoutes registers the stream routes.
func (r *Routes) RegisterRoutes(api huma.API, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID: "getStreamStatus",
		Method:      http.MethodGet,
		Path:        basePath + "/stream/status",
		Summary:     "Get killmail stream consumer status",
		Description: "Returns the current state and counters of the upstream queue poller",
		Tags:        []string{"Stream"},
	}, r.GetStatus)
}

// GetStatus returns the consumer status snapshot.
func (r *Routes) GetStatus(ctx context.Context, input *struct{}) (*StreamStatusOutput, error) {
	return &StreamStatusOutput{Body: r.consumer.Status()}, nil
}
