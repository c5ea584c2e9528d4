package events

import (
	"context"
	"errors"

	"github.com/example/gatortaxi/internal/ride/domain"
)

// Fanout delivers every event to each publisher and joins their errors.
type Fanout []domain.EventPublisher

func (f Fanout) Publish(ctx context.Context, event domain.RideEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
