package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/guarzo/wanderer-kills/internal/subscription/dto"
	"github.com/guarzo/wanderer-kills/internal/subscription/models"
	"github.com/guarzo/wanderer-kills/internal/subscription/services"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
)

// Routes handles the subscription management endpoints.
type Routes struct {
	manager *services.Manager
}

// NewRoutes creates a new Routes instance.
func NewRoutes(manager *services.Manager) *Routes {
	return &Routes{manager: manager}
}

// RegisterRoutes registers all subscription routes.
func (r *Routes) RegisterRoutes(api huma.API, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID:   "createSubscription",
		Method:        http.MethodPost,
		Path:          basePath + "/subscriptions",
		Summary:       "Create a subscription",
		Description:   "Registers a killmail subscription with a system and/or character filter",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: http.StatusCreated,
	}, r.CreateSubscription)

	huma.Register(api, huma.Operation{
		OperationID: "listSubscriptions",
		Method:      http.MethodGet,
		Path:        basePath + "/subscriptions",
		Summary:     "List subscriptions",
		Tags:        []string{"Subscriptions"},
	}, r.ListSubscriptions)

	huma.Register(api, huma.Operation{
		OperationID: "getSubscriptionStats",
		Method:      http.MethodGet,
		Path:        basePath + "/subscriptions/stats",
		Summary:     "Get subscription engine statistics",
		Tags:        []string{"Subscriptions"},
	}, r.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "getSubscription",
		Method:      http.MethodGet,
		Path:        basePath + "/subscriptions/{subscription_id}",
		Summary:     "Get a subscription by ID",
		Tags:        []string{"Subscriptions"},
	}, r.GetSubscription)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSubscription",
		Method:        http.MethodDelete,
		Path:          basePath + "/subscriptions/{subscription_id}",
		Summary:       "Delete a subscription",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: http.StatusNoContent,
	}, r.DeleteSubscription)
}

func asHumaError(err error) error {
	appErr := handlers.AsAppError(err)
	switch appErr.Type {
	case handlers.ErrorTypeValidation:
		return huma.Error422UnprocessableEntity(appErr.Message)
	case handlers.ErrorTypeNotFound:
		return huma.Error404NotFound(appErr.Message)
	default:
		return huma.Error500InternalServerError(appErr.Message)
	}
}

// CreateSubscription registers a new subscription.
func (r *Routes) CreateSubscription(ctx context.Context, input *dto.CreateSubscriptionInput) (*dto.SubscriptionOutput, error) {
	sub, err := r.manager.Create(services.CreateParams{
		SubscriberID: input.Body.SubscriberID,
		SystemIDs:    input.Body.SystemIDs,
		CharacterIDs: input.Body.CharacterIDs,
		Transport:    models.Transport(input.Body.Transport),
		CallbackURL:  input.Body.CallbackURL,
	})
	if err != nil {
		return nil, asHumaError(err)
	}
	return &dto.SubscriptionOutput{Body: *sub}, nil
}

// ListSubscriptions lists subscriptions, optionally scoped to one
// subscriber.
func (r *Routes) ListSubscriptions(ctx context.Context, input *dto.ListSubscriptionsInput) (*dto.SubscriptionListOutput, error) {
	subs := r.manager.List(input.SubscriberID)
	out := make([]models.Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, *sub)
	}
	return &dto.SubscriptionListOutput{
		Body: dto.SubscriptionListResponse{Subscriptions: out, Count: len(out)},
	}, nil
}

// GetSubscription returns one subscription by id.
func (r *Routes) GetSubscription(ctx context.Context, input *dto.GetSubscriptionInput) (*dto.SubscriptionOutput, error) {
	sub, err := r.manager.Get(input.ID)
	if err != nil {
		return nil, asHumaError(err)
	}
	return &dto.SubscriptionOutput{Body: *sub}, nil
}

// DeleteSubscription removes one subscription.
func (r *Routes) DeleteSubscription(ctx context.Context, input *dto.DeleteSubscriptionInput) (*struct{}, error) {
	if err := r.manager.Delete(input.ID); err != nil {
		return nil, asHumaError(err)
	}
	return &struct{}{}, nil
}

// GetStats returns subscription engine occupancy.
func (r *Routes) GetStats(ctx context.Context, input *struct{}) (*dto.SubscriptionStatsOutput, error) {
	return &dto.SubscriptionStatsOutput{Body: r.manager.Stats()}, nil
}
