package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/repository"
)

type DeliveryRepository struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*model.Delivery
}

func NewDeliveryRepository() *DeliveryRepository {
	return &DeliveryRepository{deliveries: make(map[uuid.UUID]*model.Delivery)}
}

var _ repository.DeliveryRepository = (*DeliveryRepository)(nil)

func copyDelivery(d *model.Delivery) *model.Delivery {
	c := *d
	return &c
}

func (s *DeliveryRepository) Create(_ context.Context, delivery *model.Delivery) error {
	if delivery == nil {
		return fmt.Errorf("delivery cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	delivery.CreatedAt = time.Now()
	delivery.UpdatedAt = delivery.CreatedAt
	if delivery.Status == "" {
		delivery.Status = model.DeliveryStatusPending
	}
	s.deliveries[delivery.ID] = copyDelivery(delivery)
	return nil
}

func (s *DeliveryRepository) Get(_ context.Context, id uuid.UUID) (*model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delivery, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery not found")
	}
	return copyDelivery(delivery), nil
}

func (s *DeliveryRepository) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delivery, ok := s.deliveries[id]
	if !ok {
		return fmt.Errorf("delivery not found")
	}
	delivery.Status = model.DeliveryStatusSent
	sentAt := at
	delivery.SentAt = &sentAt
	delivery.ErrorMessage = nil
	delivery.UpdatedAt = time.Now()
	return nil
}

func (s *DeliveryRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delivery, ok := s.deliveries[id]
	if !ok {
		return fmt.Errorf("delivery not found")
	}
	delivery.Status = model.DeliveryStatusFailed
	msg := errMsg
	delivery.ErrorMessage = &msg
	delivery.RetryCount = retryCount
	delivery.UpdatedAt = time.Now()
	return nil
}

func (s *DeliveryRepository) StatsSince(_ context.Context, since time.Time) (model.DeliveryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats model.DeliveryStats
	for _, d := range s.deliveries {
		if d.UpdatedAt.Before(since) {
			continue
		}
		switch d.Status {
		case model.DeliveryStatusSent:
			stats.Sent++
		case model.DeliveryStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *DeliveryRepository) CountStaleFailed(_ context.Context, cutoff time.Time, maxRetries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, d := range s.deliveries {
		if d.Status == model.DeliveryStatusFailed && d.UpdatedAt.Before(cutoff) && d.RetryCount < maxRetries {
			count++
		}
	}
	return count, nil
}

// All returns every delivery, for test assertions.
func (s *DeliveryRepository) All() []*model.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		out = append(out, copyDelivery(d))
	}
	return out
}
