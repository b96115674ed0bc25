package event

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"

	"github.com/Akhil-Ferry/Smart-city/internal/config"
	"github.com/Akhil-Ferry/Smart-city/internal/lifecycle"
	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// AlertCreator is the slice of the lifecycle controller the consumer needs.
type AlertCreator interface {
	Create(ctx context.Context, input lifecycle.CreateInput) (*model.Alert, error)
}

// Consumer reads sensor readings off Kafka and raises threshold alerts.
// Readings for the same sensor and parameter inside the dedupe window
// produce at most one alert.
type Consumer struct {
	cfg      config.KafkaConfig
	logger   *slog.Logger
	reader   *kafka.Reader
	creator  AlertCreator
	dedupe   *gocache.Cache
	shutdown chan struct{}
	wg       sync.WaitGroup
}

func NewConsumer(cfg config.KafkaConfig, dedupeWindow time.Duration, creator AlertCreator, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topics.SensorReadings,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
		Logger:         &kafkaLogger{logger: logger},
		ErrorLogger:    &kafkaErrorLogger{logger: logger},
	})

	if dedupeWindow <= 0 {
		dedupeWindow = 10 * time.Minute
	}

	return &Consumer{
		cfg:      cfg,
		logger:   logger,
		reader:   reader,
		creator:  creator,
		dedupe:   gocache.New(dedupeWindow, dedupeWindow),
		shutdown: make(chan struct{}),
	}
}

// Start launches the read loop in its own goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("starting sensor reading consumer",
		"topic", c.cfg.Topics.SensorReadings,
		"group_id", c.cfg.GroupID)

	c.wg.Add(1)
	go c.run(ctx)
}

// Stop closes the reader and waits for the loop to drain.
func (c *Consumer) Stop() {
	close(c.shutdown)
	c.reader.Close()
	c.wg.Wait()
	c.logger.Info("sensor reading consumer stopped")
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		message, err := c.reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil || err == context.DeadlineExceeded {
				continue
			}
			c.logger.Error("failed to read sensor message", "error", err)
			time.Sleep(time.Second)
			continue
		}

		if err := c.processReading(ctx, message.Value); err != nil {
			c.logger.Error("failed to process sensor reading",
				"partition", message.Partition,
				"offset", message.Offset,
				"error", err)
		}
	}
}

// processReading extracts the fields it needs from the raw payload without
// binding the whole message to a struct; producers add fields freely.
func (c *Consumer) processReading(ctx context.Context, payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("invalid json payload")
	}

	body := gjson.ParseBytes(payload)
	sensorID := body.Get("sensor_id").String()
	parameter := body.Get("parameter").String()
	if sensorID == "" || parameter == "" {
		return fmt.Errorf("reading missing sensor_id or parameter")
	}

	exceeded := body.Get("threshold_exceeded").Bool()
	if !exceeded {
		return nil
	}

	key := sensorID + ":" + parameter
	if _, suppressed := c.dedupe.Get(key); suppressed {
		c.logger.Debug("suppressing duplicate sensor alert", "sensor_id", sensorID, "parameter", parameter)
		return nil
	}

	input := buildCreateInput(body, sensorID, parameter)
	alert, err := c.creator.Create(ctx, input)
	if err != nil {
		// Validation failures are producer bugs, not transient faults; log
		// and move on so the partition keeps draining.
		if lifecycle.IsValidation(err) {
			c.logger.Warn("rejected sensor reading", "sensor_id", sensorID, "error", err)
			return nil
		}
		return err
	}

	c.dedupe.SetDefault(key, alert.AlertID)
	c.logger.Info("alert raised from sensor reading",
		"alert_id", alert.AlertID,
		"sensor_id", sensorID,
		"parameter", parameter,
		"severity", alert.Severity)
	return nil
}

func buildCreateInput(body gjson.Result, sensorID, parameter string) lifecycle.CreateInput {
	severity := model.Severity(body.Get("severity").String())
	if !model.ValidSeverity(severity) {
		severity = model.SeverityMedium
	}

	category := model.Category(body.Get("category").String())
	if !model.ValidCategory(category) {
		category = model.CategorySystem
	}

	actual := body.Get("value").Float()
	limit := body.Get("threshold").Float()
	unit := body.Get("unit").String()

	source := model.Source{
		Type: model.SourceSensor,
		ID:   sensorID,
		Name: body.Get("sensor_name").String(),
	}
	if lat := body.Get("location.latitude"); lat.Exists() {
		source.Location = &model.GeoPoint{
			Latitude:  lat.Float(),
			Longitude: body.Get("location.longitude").Float(),
		}
	}

	title := fmt.Sprintf("%s threshold exceeded on %s", strings.ToUpper(parameter), sensorID)
	description := fmt.Sprintf("Sensor %s reported %s at %.2f%s, above the configured limit of %.2f%s.",
		sensorID, parameter, actual, unit, limit, unit)

	return lifecycle.CreateInput{
		Type:        model.TypeThreshold,
		Category:    category,
		Severity:    severity,
		Title:       title,
		Description: description,
		Source:      source,
		Threshold: &model.Threshold{
			Parameter: parameter,
			Limit:     limit,
			Actual:    actual,
			Operator:  ">",
			Unit:      unit,
		},
		District:  body.Get("district").String(),
		CreatedBy: "system",
	}
}

type kafkaLogger struct {
	logger *slog.Logger
}

func (l *kafkaLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

type kafkaErrorLogger struct {
	logger *slog.Logger
}

func (l *kafkaErrorLogger) Printf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
