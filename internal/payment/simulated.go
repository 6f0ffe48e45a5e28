// Package payment contains payment providers. Only a simulated provider
// exists; it never moves money.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"liftbook/internal/config"
	"liftbook/internal/domain"
	"liftbook/internal/models"

	"github.com/google/uuid"
)

const refPrefix = "sim_"

var ErrUnknownReference = errors.New("unknown provider reference")

// SimulatedProvider marks charges succeeded unless they exceed the configured
// decline threshold.
type SimulatedProvider struct {
	declineAbove int64

	mu      sync.Mutex
	charges map[string]models.PaymentStatus
}

func NewSimulatedProvider(cfg config.PaymentsConfig) *SimulatedProvider {
	return &SimulatedProvider{
		declineAbove: cfg.DeclineAboveCents,
		charges:      make(map[string]models.PaymentStatus),
	}
}

func (p *SimulatedProvider) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChargeResult{}, err
	}
	if req.AmountCents <= 0 {
		return domain.ChargeResult{}, fmt.Errorf("charge amount must be positive: %w", domain.ErrValidation)
	}

	ref := refPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	status := models.PaymentSucceeded
	if p.declineAbove > 0 && req.AmountCents > p.declineAbove {
		status = models.PaymentFailed
	}

	p.mu.Lock()
	p.charges[ref] = status
	p.mu.Unlock()

	return domain.ChargeResult{Status: status, ProviderRef: ref}, nil
}

func (p *SimulatedProvider) Refund(ctx context.Context, providerRef string) (models.PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.charges[providerRef]
	if !ok {
		// charges made before a restart are only known by their prefix
		if !strings.HasPrefix(providerRef, refPrefix) {
			return "", fmt.Errorf("%s: %w", providerRef, ErrUnknownReference)
		}
		status = models.PaymentSucceeded
	}
	if status != models.PaymentSucceeded {
		return "", fmt.Errorf("cannot refund %s payment: %w", status, domain.ErrPaymentDeclined)
	}
	p.charges[providerRef] = models.PaymentRefunded
	return models.PaymentRefunded, nil
}
