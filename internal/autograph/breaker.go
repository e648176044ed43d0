package autograph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/aevon-lab/project-tracklog/internal/metrics"
)

// BreakerSettings tunes the circuit breaker around the upstream.
type BreakerSettings struct {
	Name         string
	MaxRequests  uint32        // trial requests allowed while half-open
	Interval     time.Duration // closed-state count reset period
	Timeout      time.Duration // open → half-open delay
	MinRequests  uint32        // requests needed before the failure ratio is considered
	FailureRatio float64
}

// DefaultBreakerSettings matches a slow, occasionally flaky telemetry provider.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "autograph",
		MaxRequests:  2,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// BreakerClient guards an API with a circuit breaker. While the circuit is
// open calls fail fast with gobreaker.ErrOpenState.
type BreakerClient struct {
	next API
	cb   *gobreaker.CircuitBreaker[any]
}

var _ API = (*BreakerClient)(nil)

// NewBreakerClient wraps next.
func NewBreakerClient(next API, s BreakerSettings) *BreakerClient {
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		// Rejected credentials and bad input say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("[Breaker] State transition", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &BreakerClient{next: next, cb: cb}
}

// State reports the current breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) Login(ctx context.Context, user, password string, utcOffset int) (string, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.Login(ctx, user, password, utcOffset)
	})
	if err != nil {
		return "", err
	}
	return cast[string](res, "Login")
}

func (b *BreakerClient) EnumSchemas(ctx context.Context, session string) ([]Schema, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.EnumSchemas(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	return cast[[]Schema](res, "EnumSchemas")
}

func (b *BreakerClient) EnumDevices(ctx context.Context, session, schemaID string) (*DeviceList, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.EnumDevices(ctx, session, schemaID)
	})
	if err != nil {
		return nil, err
	}
	return cast[*DeviceList](res, "EnumDevices")
}

func (b *BreakerClient) GetTripItems(ctx context.Context, session string, req TripItemsRequest) (TripItemsResponse, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.GetTripItems(ctx, session, req)
	})
	if err != nil {
		return nil, err
	}
	return cast[TripItemsResponse](res, "GetTripItems")
}

func (b *BreakerClient) GetTripsTotal(ctx context.Context, session string, req TripsTotalRequest) (TripsTotalResponse, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.GetTripsTotal(ctx, session, req)
	})
	if err != nil {
		return nil, err
	}
	return cast[TripsTotalResponse](res, "GetTripsTotal")
}

func (b *BreakerClient) GetOnlineInfo(ctx context.Context, session string, req OnlineInfoRequest) (OnlineInfoResponse, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.GetOnlineInfo(ctx, session, req)
	})
	if err != nil {
		return nil, err
	}
	return cast[OnlineInfoResponse](res, "GetOnlineInfo")
}

func cast[T any](v any, op string) (T, error) {
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("circuit breaker: unexpected result type for %s", op)
	}
	return out, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
