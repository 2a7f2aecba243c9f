package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/config"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Refunds  services.RefundService
	Counters services.CounterService
	System   services.SystemService
}

// Dependencies carries collaborators that are constructed outside the
// container, such as the payment provider manager and the event publisher.
type Dependencies struct {
	Payments services.RefundExecutor
	Events   services.OrderEventPublisher
	Build    services.BuildInfo
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, nil
	}

	if counterRepo := reg.Counters(); counterRepo != nil {
		counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
			Repository: counterRepo,
			Clock:      time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build counter service: %w", err)
		}
		svc.Counters = counterSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil && svc.Counters != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:             ordersRepo,
			Counters:           svc.Counters,
			UnitOfWork:         reg,
			Clock:              time.Now,
			Events:             deps.Events,
			Logger:             deps.Logger,
			PlatformFeePercent: cfg.Fees.PlatformFeePercent,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if refundRepo := reg.Refunds(); refundRepo != nil && ordersRepo != nil && deps.Payments != nil {
		refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
			Orders:     ordersRepo,
			Refunds:    refundRepo,
			Payments:   deps.Payments,
			UnitOfWork: reg,
			Clock:      time.Now,
			Events:     deps.Events,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build refund service: %w", err)
		}
		svc.Refunds = refundSvc
	}

	return svc, nil
}
