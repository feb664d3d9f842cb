package provider

import (
	"context"
	"errors"
	"net"

	"github.com/urbanserve/booking-payments/internal/domain/models"
)

// Classification is the closed-taxonomy verdict on a raw provider failure.
// Business code never sees raw provider errors, only errors built from this.
type Classification struct {
	Kind        models.ErrorKind
	Retryable   bool
	UserMessage string
}

// providerError is the raw wire-level failure produced by the HTTP client
// before classification.
type providerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *providerError) Error() string {
	return "provider error " + e.Code + ": " + e.Message
}

// Card-state decline codes as the provider reports them.
const (
	codeCardDeclined      = "card_declined"
	codeInsufficientFunds = "insufficient_funds"
	codeExpiredCard       = "expired_card"
	codeProcessingError   = "processing_error"
	codeRateLimited       = "rate_limited"
)

// Classify maps a raw provider error to its taxonomy kind, retry decision,
// and user-facing message. Card-state errors are never retried and carry an
// actionable message; transient errors are retried with exponential backoff;
// anything unrecognized is treated as non-retryable unknown.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	// Already-classified errors keep their verdict; classification is
	// idempotent so wrappers may call it at any layer.
	var cardErr *models.CardError
	if errors.As(err, &cardErr) {
		return Classification{Kind: cardErr.Kind, Retryable: false, UserMessage: cardErr.UserMessage}
	}
	var transientErr *models.ProviderTransientError
	if errors.As(err, &transientErr) {
		return Classification{
			Kind:        transientErr.Kind,
			Retryable:   true,
			UserMessage: "Payment could not be processed, please try again shortly.",
		}
	}

	// Transport-level failures: timeouts count identically to explicit
	// provider errors for the circuit breaker, and are retryable.
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Classification{
			Kind:        models.ErrorKindNetworkTimeout,
			Retryable:   true,
			UserMessage: "Payment service is temporarily unavailable, please try again shortly.",
		}
	}

	var perr *providerError
	if errors.As(err, &perr) {
		return classifyProviderError(perr)
	}

	return Classification{
		Kind:        models.ErrorKindUnknown,
		Retryable:   false,
		UserMessage: "Payment could not be processed.",
	}
}

func classifyProviderError(perr *providerError) Classification {
	switch perr.Code {
	case codeCardDeclined:
		return Classification{
			Kind:        models.ErrorKindCardDeclined,
			Retryable:   false,
			UserMessage: "Your card was declined. Please use a different payment method.",
		}
	case codeInsufficientFunds:
		return Classification{
			Kind:        models.ErrorKindInsufficientFunds,
			Retryable:   false,
			UserMessage: "Your card has insufficient funds. Please use a different payment method.",
		}
	case codeExpiredCard:
		return Classification{
			Kind:        models.ErrorKindExpiredCard,
			Retryable:   false,
			UserMessage: "Your card has expired. Please use a different payment method.",
		}
	case codeRateLimited:
		return Classification{
			Kind:        models.ErrorKindRateLimited,
			Retryable:   true,
			UserMessage: "Payment service is busy, please try again shortly.",
		}
	case codeProcessingError:
		return Classification{
			Kind:        models.ErrorKindProcessingError,
			Retryable:   true,
			UserMessage: "Payment could not be processed, please try again shortly.",
		}
	}

	// Fall back on the HTTP status when the provider sent no usable code.
	switch {
	case perr.StatusCode == 429:
		return Classification{
			Kind:        models.ErrorKindRateLimited,
			Retryable:   true,
			UserMessage: "Payment service is busy, please try again shortly.",
		}
	case perr.StatusCode >= 500:
		return Classification{
			Kind:        models.ErrorKindProcessingError,
			Retryable:   true,
			UserMessage: "Payment could not be processed, please try again shortly.",
		}
	}

	return Classification{
		Kind:        models.ErrorKindUnknown,
		Retryable:   false,
		UserMessage: "Payment could not be processed.",
	}
}

// toDomainError converts a raw failure into the typed error business code
// receives: CardError for card-state declines, ProviderTransientError for
// retryable failures, and the raw error (wrapped) otherwise.
func toDomainError(err error) error {
	if err == nil {
		return nil
	}

	var cardErr *models.CardError
	var transientErr *models.ProviderTransientError
	if errors.As(err, &cardErr) || errors.As(err, &transientErr) {
		return err
	}

	c := Classify(err)

	switch c.Kind {
	case models.ErrorKindCardDeclined, models.ErrorKindInsufficientFunds, models.ErrorKindExpiredCard:
		code := ""
		var perr *providerError
		if errors.As(err, &perr) {
			code = perr.Code
		}
		return &models.CardError{Kind: c.Kind, Code: code, UserMessage: c.UserMessage}

	case models.ErrorKindNetworkTimeout, models.ErrorKindRateLimited, models.ErrorKindProcessingError:
		code := ""
		var perr *providerError
		if errors.As(err, &perr) {
			code = perr.Code
		}
		return &models.ProviderTransientError{Kind: c.Kind, Code: code}
	}

	return err
}
