package dto

import (
	"github.com/guarzo/wanderer-kills/internal/subscription/models"
	"github.com/guarzo/wanderer-kills/internal/subscription/services"
)

// SubscriptionOutput wraps a single subscription.
type SubscriptionOutput struct {
	Body models.Subscription
}

// SubscriptionListOutput wraps a list of subscriptions.
type SubscriptionListOutput struct {
	Body SubscriptionListResponse
}

// SubscriptionListResponse carries a list of subscriptions.
type SubscriptionListResponse struct {
	Subscriptions []models.Subscription `json:"subscriptions" doc:"Matching subscriptions"`
	Count         int                   `json:"count" doc:"Number of subscriptions returned"`
}

// SubscriptionStatsOutput wraps engine occupancy stats.
type SubscriptionStatsOutput struct {
	Body services.ManagerStats
}
