package usecase

import (
	"context"

	"github.com/karalabe/rabbitfence/internal/entity"
)

type (
	// Fence decides whether a departed node must be evicted and evicts it.
	Fence interface {
		HandleDeparture(ctx context.Context, address string) error
	}
	// BrokerCluster is the slice of rabbitmqctl the fencer needs.
	BrokerCluster interface {
		IsNodeRunning(ctx context.Context, node string) bool
		IsNodeRunningOnce(ctx context.Context, node string) bool
		IsNodeInCluster(ctx context.Context, node string) bool
		DisconnectNode(ctx context.Context, node string)
		ForgetNode(ctx context.Context, node string)
	}
	// ClusterBus delivers membership notifications in arrival order.
	ClusterBus interface {
		Events() <-chan *entity.ClusterEvent
		Close() error
	}
)
