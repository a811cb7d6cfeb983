package dto

// CreateSubscriptionInput registers a new subscription.
type CreateSubscriptionInput struct {
	Body CreateSubscriptionRequest
}

// CreateSubscriptionRequest is the body of the create call.
type CreateSubscriptionRequest struct {
	SubscriberID string  `json:"subscriber_id" required:"true" doc:"Caller-chosen subscriber identity"`
	SystemIDs    []int64 `json:"system_ids,omitempty" doc:"Solar systems to watch"`
	CharacterIDs []int64 `json:"character_ids,omitempty" doc:"Characters to watch"`
	Transport    string  `json:"transport" required:"true" enum:"channel,webhook" doc:"Delivery transport"`
	CallbackURL  string  `json:"callback_url,omitempty" format:"uri" doc:"Callback URL, required for webhook transport"`
}

// GetSubscriptionInput fetches one subscription.
type GetSubscriptionInput struct {
	ID string `path:"subscription_id" doc:"Subscription ID"`
}

// ListSubscriptionsInput lists subscriptions, optionally per subscriber.
type ListSubscriptionsInput struct {
	SubscriberID string `query:"subscriber_id" doc:"Limit to one subscriber's subscriptions"`
}

// DeleteSubscriptionInput removes one subscription.
type DeleteSubscriptionInput struct {
	ID string `path:"subscription_id" doc:"Subscription ID"`
}
