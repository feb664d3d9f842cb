package ports

import "context"

// AuthorizeRequest asks the provider to place a hold for the amount against
// a stored payment method, without transferring funds.
type AuthorizeRequest struct {
	AmountCents      int64
	PaymentMethodRef string
	IdempotencyKey   string
}

// AuthorizeResponse carries the provider-side authorization handle.
type AuthorizeResponse struct {
	AuthorizationID string
}

// CaptureResponse carries the provider-side charge handle.
type CaptureResponse struct {
	ChargeID string
}

// PaymentGateway is the provider client consumed by the saga and the
// auto-charge path. Implementations return classified errors (CardError,
// ProviderTransientError) rather than raw provider payloads. All calls made
// by business code go through the resilience-wrapped implementation, never
// the bare client.
type PaymentGateway interface {
	Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error)
	Capture(ctx context.Context, authorizationID string, amountCents int64) (*CaptureResponse, error)
	Void(ctx context.Context, authorizationID string) error
}
