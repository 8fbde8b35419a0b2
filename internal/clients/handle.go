package clients

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// handle is a lazily-built, individually-locked client slot.
type handle[T any] struct {
	mu     sync.Mutex
	client *T
}

func get[T any](ctx context.Context, h *handle[T], build func(aws.Config) *T) (*T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		return h.client, nil
	}
	cfg, err := loadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	h.client = build(cfg)
	return h.client, nil
}

func (h *handle[T]) reset() {
	h.mu.Lock()
	h.client = nil
	h.mu.Unlock()
}
