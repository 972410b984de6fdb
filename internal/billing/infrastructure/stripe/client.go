package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	stripelib "github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"

	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

// ErrAPIUnavailable is returned while the breaker is open.
var ErrAPIUnavailable = errors.New("stripe: api temporarily unavailable")

// ClientConfig configures API lookups.
type ClientConfig struct {
	APIKey          string
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Metrics         observability.Metrics
	Logger          *slog.Logger
}

// Client fetches subscriptions and customers from the Stripe API behind a
// circuit breaker. Client errors (4xx) do not count as failures.
type Client struct {
	getSubscription func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	getCustomer     func(id string, params *stripelib.CustomerParams) (*stripelib.Customer, error)
	breaker         *gobreaker.CircuitBreaker[any]
	metrics         observability.Metrics
	logger          *slog.Logger
}

// NewClient returns a client holding its own API key. The package-level
// stripe.Key is never touched.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	api := &stripeclient.API{}
	api.Init(strings.TrimSpace(cfg.APIKey), nil)

	logger := cfg.Logger.With("component", "stripe_client")
	settings := gobreaker.Settings{
		Name:        "stripe-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &Client{
		getSubscription: api.Subscriptions.Get,
		getCustomer:     api.Customers.Get,
		breaker:         gobreaker.NewCircuitBreaker[any](settings),
		metrics:         cfg.Metrics,
		logger:          logger,
	}
}

// Subscription fetches a subscription by id.
func (c *Client) Subscription(ctx context.Context, id string) (*Subscription, error) {
	res, err := c.execute("stripe.get_subscription", func() (any, error) {
		params := &stripelib.SubscriptionParams{}
		params.Context = ctx
		return c.getSubscription(id, params)
	})
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return fromAPISubscription(res.(*stripelib.Subscription)), nil
}

// CustomerUserID returns metadata.user_id of a customer, or "" when the
// customer is deleted or carries none.
func (c *Client) CustomerUserID(ctx context.Context, customerID string) (string, error) {
	res, err := c.execute("stripe.get_customer", func() (any, error) {
		params := &stripelib.CustomerParams{}
		params.Context = ctx
		return c.getCustomer(customerID, params)
	})
	if err != nil {
		return "", fmt.Errorf("get customer %s: %w", customerID, err)
	}
	cust := res.(*stripelib.Customer)
	if cust == nil || cust.Deleted {
		return "", nil
	}
	return strings.TrimSpace(cust.Metadata[MetadataUserID]), nil
}

func (c *Client) execute(operation string, fn func() (any, error)) (any, error) {
	res, err := observability.Observe(c.metrics, c.logger, operation, func() (any, error) {
		return c.breaker.Execute(fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrAPIUnavailable
	}
	return res, err
}

func isClientError(err error) bool {
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= http.StatusBadRequest &&
			stripeErr.HTTPStatusCode < http.StatusInternalServerError &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}

func fromAPISubscription(s *stripelib.Subscription) *Subscription {
	if s == nil {
		return nil
	}
	out := &Subscription{
		ID:       s.ID,
		Status:   string(s.Status),
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		out.Customer = customerRef(s.Customer.ID)
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil {
				continue
			}
			out.Items.Data = append(out.Items.Data, SubscriptionItem{
				ID:               item.ID,
				CurrentPeriodEnd: item.CurrentPeriodEnd,
			})
		}
	}
	return out
}
