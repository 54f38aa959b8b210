package bundle

import (
	"context"
)

// Handler 处理来自执行队列的交易包 ID。
type Handler func(ctx context.Context, bundleID string) error

// Producer 负责向执行队列投递已批准的交易包。
type Producer interface {
	Publish(ctx context.Context, bundleID string) error
	Close() error
}

// Consumer 负责从执行队列中消费交易包。处理失败不会重投：
// 链上执行永不自动重试，失败的交易包就地进入终态。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
