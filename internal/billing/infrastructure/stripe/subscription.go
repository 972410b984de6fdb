// Package stripe turns Stripe billing events into entitlement syncs.
package stripe

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// MetadataUserID is the metadata key carrying the coachpage user id on
// subscriptions, checkout sessions and customers.
const MetadataUserID = "user_id"

// IsActiveStatus reports whether a subscription status means paying or in a
// provider trial. Unknown statuses are inactive.
func IsActiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return true
	default:
		return false
	}
}

// Subscription is the subset of a Stripe subscription the sync needs.
type Subscription struct {
	ID       string      `json:"id"`
	Customer customerRef `json:"customer"`
	Status   string      `json:"status"`
	// CurrentPeriodEnd is only present on API versions before 2025-03-31.
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Items            SubscriptionItems `json:"items"`
	Metadata         map[string]string `json:"metadata"`
}

type SubscriptionItems struct {
	Data []SubscriptionItem `json:"data"`
}

type SubscriptionItem struct {
	ID               string `json:"id"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// CustomerID returns the subscription's customer id.
func (s *Subscription) CustomerID() string {
	return strings.TrimSpace(string(s.Customer))
}

// UserIDHint returns the user id stored in the subscription metadata.
func (s *Subscription) UserIDHint() string {
	return strings.TrimSpace(s.Metadata[MetadataUserID])
}

// PeriodEnd is the end of the paid period in UTC, read from the subscription
// or else from its first item that carries one. Nil when unknown.
func (s *Subscription) PeriodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	if end <= 0 {
		for _, item := range s.Items.Data {
			if item.CurrentPeriodEnd > 0 {
				end = item.CurrentPeriodEnd
				break
			}
		}
	}
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

// CheckoutSession is the subset of a checkout.session event the sync needs.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          customerRef       `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// UserIDHint prefers client_reference_id, then metadata.
func (c *CheckoutSession) UserIDHint() string {
	if ref := strings.TrimSpace(c.ClientReferenceID); ref != "" {
		return ref
	}
	return strings.TrimSpace(c.Metadata[MetadataUserID])
}

// customerRef decodes either a customer id or an expanded customer object.
type customerRef string

func (c *customerRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*c = customerRef(obj.ID)
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*c = customerRef(id)
	return nil
}
