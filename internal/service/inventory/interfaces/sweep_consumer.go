// internal/service/inventory/interfaces/sweep_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"depot/internal/pkg/logger"
	"depot/internal/pkg/mq"
)

// SweepTrigger 是清理任务的触发消息。
type SweepTrigger struct {
	BatchSize int `json:"batch_size"`
}

// SweepResult 是清理任务的结果消息，回投到结果主题。
type SweepResult struct {
	Cleaned int    `json:"cleaned"`
	Error   string `json:"error,omitempty"`
}

// SweepService 是清理消费者对引擎的依赖面。
type SweepService interface {
	CleanupExpired(ctx context.Context, batchSize int) (int, error)
}

// SweepConsumer 是一个驱动适配器：监听清理触发消息并驱动引擎执行。
// 多个 worker 实例可以并发消费，清理本身靠 SKIP LOCKED 保证互不重叠。
type SweepConsumer struct {
	reader       *kafka.Reader
	resultWriter *kafka.Writer // 可为 nil：不回报结果
	service      SweepService

	wg      sync.WaitGroup
	stopped bool
}

// NewSweepConsumer 创建一个新的清理消费者。
func NewSweepConsumer(reader *kafka.Reader, resultWriter *kafka.Writer, service SweepService) *SweepConsumer {
	return &SweepConsumer{reader: reader, resultWriter: resultWriter, service: service}
}

// Start 开始监听触发主题。这是一个长期运行的方法。
func (c *SweepConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("sweep consumer started")
		for {
			if c.stopped {
				return
			}
			// 使用 FetchMessage 而不是 ReadMessage，以便控制退出和提交时机
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("sweep consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read sweep trigger, retrying")
				time.Sleep(1 * time.Second)
				continue
			}

			c.processMessage(ctx, msg)

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit sweep trigger offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *SweepConsumer) Stop() {
	c.stopped = true
	c.reader.Close()
	c.wg.Wait()
}

// processMessage 反序列化触发消息并执行一次清理。
func (c *SweepConsumer) processMessage(parentCtx context.Context, msg kafka.Message) {
	var trigger SweepTrigger
	if err := json.Unmarshal(msg.Value, &trigger); err != nil {
		logger.Ctx(parentCtx).Error().Err(err).Msg("invalid sweep trigger, message skipped")
		return
	}

	tracer := otel.Tracer("sweep-worker")
	ctx, span := tracer.Start(parentCtx, "sweep.ProcessTrigger")
	defer span.End()

	cleaned, err := c.service.CleanupExpired(ctx, trigger.BatchSize)
	result := SweepResult{Cleaned: cleaned}
	if err != nil {
		span.RecordError(err)
		result.Error = err.Error()
	}

	if c.resultWriter == nil {
		return
	}
	payload, _ := json.Marshal(result)
	if err := mq.ProduceMessage(ctx, c.resultWriter, nil, payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to publish sweep result")
	}
}
