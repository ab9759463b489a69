package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqttcommon "workplace-monitor/common/mqtt"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// Subscriber the broker side of the consumer.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// ConsumerConfig topic is an MQTT filter such as presence/+/detections.
type ConsumerConfig struct {
	Topic          string
	QoS            byte
	ReportInterval time.Duration
}

// Consumer routes detection messages into per-camera frame slots.
type Consumer struct {
	config     ConsumerConfig
	subscriber Subscriber
	clock      quartz.Clock
	logger     *zap.Logger
	metrics    *Metrics

	mu    sync.Mutex
	slots map[int64]*FrameSlot
}

func NewConsumer(cfg ConsumerConfig, subscriber Subscriber, clock quartz.Clock, logger *zap.Logger, metrics *Metrics) *Consumer {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 60 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(clock.Now())
	}
	return &Consumer{
		config:     cfg,
		subscriber: subscriber,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		slots:      make(map[int64]*FrameSlot),
	}
}

// Slot returns the camera's frame slot, creating it on first use.
func (c *Consumer) Slot(cameraID int64) *FrameSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[cameraID]
	if !ok {
		s = NewFrameSlot()
		c.slots[cameraID] = s
	}
	return s
}

func (c *Consumer) Metrics() *Metrics {
	return c.metrics
}

// Start subscribes and blocks until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.config.Topic, c.config.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to presence topic: %w", err)
	}

	c.logger.Info("Presence consumer started", zap.String("topic", c.config.Topic))

	c.reportMetrics(ctx)
	return nil
}

// Stop unsubscribes; frames already in the slots stay readable.
func (c *Consumer) Stop() error {
	if err := c.subscriber.Unsubscribe(c.config.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("Presence consumer stopped")
	return nil
}

// cameraFromTopic topic format: presence/{camera_id}/detections
func cameraFromTopic(topic string) (int64, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return 0, fmt.Errorf("invalid topic format: %s", topic)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid camera id in topic %s: %w", topic, err)
	}
	return id, nil
}

func (c *Consumer) handleMessage(topic string, payload []byte) error {
	c.metrics.IncrementReceived()

	cameraID, err := cameraFromTopic(topic)
	if err != nil {
		c.metrics.IncrementFailed("topic")
		return err
	}

	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if frame.CameraID == 0 {
		frame.CameraID = cameraID
	} else if frame.CameraID != cameraID {
		c.metrics.IncrementFailed("camera")
		return fmt.Errorf("frame for camera %d published on %s", frame.CameraID, topic)
	}

	now := c.clock.Now()
	frame.ReceivedAt = now
	replaced := c.Slot(cameraID).Put(&frame)
	c.metrics.IncrementAccepted(now, replaced)
	return nil
}

func (c *Consumer) reportMetrics(ctx context.Context) {
	ticker := c.clock.NewTicker(c.config.ReportInterval, "presence", "report")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			c.logger.Info("Metrics report",
				zap.Int64("messages_received", snapshot.MessagesReceived),
				zap.Int64("frames_accepted", snapshot.FramesAccepted),
				zap.Int64("frames_replaced", snapshot.FramesReplaced),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_topic", snapshot.ErrorsTopic),
				zap.Int64("errors_camera", snapshot.ErrorsCamera),
				zap.Int64("frames_processed", snapshot.FramesProcessed),
				zap.Int64("frames_stale", snapshot.FramesStale),
				zap.Int64("zone_reloads", snapshot.ZoneReloads),
				zap.Duration("uptime", c.clock.Since(snapshot.StartTime)),
			)
		}
	}
}
