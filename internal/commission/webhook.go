package commission

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"anzacash/internal/apperr"
	"anzacash/internal/logger"
)

const EventPaymentSucceeded = "payment.succeeded"

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// WebhookNotification is the payment provider's callback body.
type WebhookNotification struct {
	Type   string        `json:"type"`
	Event  string        `json:"event"`
	Object WebhookObject `json:"object"`
}

type WebhookObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Paid     bool              `json:"paid"`
	Amount   Amount            `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

// HandleWebhook records a succeeded payment under the provider's payment
// id. Other events are ignored and return a nil receipt.
func (s *Service) HandleWebhook(ctx context.Context, n WebhookNotification) (*Receipt, error) {
	if n.Event != EventPaymentSucceeded {
		logger.Infof("Ignored payment event: %s", n.Event)
		return nil, nil
	}
	if n.Object.ID == "" {
		return nil, apperr.New(apperr.KindValidation, "payment id is missing")
	}

	raw, ok := n.Object.Metadata["user_id"]
	if !ok {
		return nil, apperr.New(apperr.KindValidation, "metadata missing user_id")
	}
	userID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || userID == 0 {
		return nil, apperr.New(apperr.KindValidation, "invalid user_id %q", raw)
	}

	amount, err := decimal.NewFromString(n.Object.Amount.Value)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid amount %q", n.Object.Amount.Value)
	}

	return s.RecordPayment(ctx, uint(userID), amount, n.Object.ID)
}
