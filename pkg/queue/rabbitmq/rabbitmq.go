package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/queue"
)

const (
	// Direct exchange routing run requests to project queues
	runsExchange = "geaman_runs_exchange"
	exchangeType = "direct"
	// Fanout exchange receiving finished report summaries
	reportsExchange = "geaman_reports_exchange"
	// Max priority level for queues
	maxPriority     = 10
	contentTypeJSON = "application/json"
)

// Ensure RabbitMQManager implements queue.Manager interface at compile time
var _ queue.Manager = (*RabbitMQManager)(nil)

// RabbitMQManager implements the queue.Manager interface using RabbitMQ.
// Channels are opened per operation; the connection is shared.
type RabbitMQManager struct {
	conn   *amqp.Connection
	logger *slog.Logger
	// Projects whose queue was already declared on this connection
	declaredQueues sync.Map
	mu             sync.Mutex
}

// deliveryAckNacker implements the queue.AckNacker interface for RabbitMQ deliveries.
// It owns the channel the message was fetched on and closes it once settled.
type deliveryAckNacker struct {
	deliveryTag uint64
	channel     *amqp.Channel
	logger      *slog.Logger
	closed      bool
	mu          sync.Mutex
}

// Ack acknowledges the message. Idempotent.
func (a *deliveryAckNacker) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("Attempted to Ack already settled delivery", slog.Uint64("deliveryTag", a.deliveryTag))
		return nil
	}
	err := a.channel.Ack(a.deliveryTag, false)
	if err != nil {
		a.logger.Error("Failed to ACK message", slog.Uint64("deliveryTag", a.deliveryTag), slog.String("error", err.Error()))
		return err
	}
	a.settle()
	return nil
}

// Nack negatively acknowledges the message. Idempotent.
func (a *deliveryAckNacker) Nack(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("Attempted to Nack already settled delivery", slog.Uint64("deliveryTag", a.deliveryTag))
		return nil
	}
	err := a.channel.Nack(a.deliveryTag, false, requeue)
	if err != nil {
		a.logger.Error("Failed to NACK message", slog.Uint64("deliveryTag", a.deliveryTag), slog.Bool("requeue", requeue), slog.String("error", err.Error()))
		return err
	}
	a.settle()
	return nil
}

func (a *deliveryAckNacker) settle() {
	a.closed = true
	if err := a.channel.Close(); err != nil {
		a.logger.Debug("Failed to close delivery channel", slog.String("error", err.Error()))
	}
}

// NewRabbitMQManager connects to RabbitMQ and declares the exchanges.
func NewRabbitMQManager(url string, logger *slog.Logger) (*RabbitMQManager, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connection established")

	closeChan := make(chan *amqp.Error)
	conn.NotifyClose(closeChan)
	go func() {
		amqpErr := <-closeChan
		if amqpErr != nil {
			logger.Error("RabbitMQ connection closed unexpectedly", slog.String("error", amqpErr.Error()))
		} else {
			logger.Info("RabbitMQ connection closed normally")
		}
	}()

	manager := &RabbitMQManager{conn: conn, logger: logger}
	if err := manager.declareExchanges(); err != nil {
		conn.Close()
		return nil, err
	}
	return manager, nil
}

// declareExchanges ensures both exchanges exist. Uses a temporary channel.
func (m *RabbitMQManager) declareExchanges() error {
	ch, err := m.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for exchange declare: %w", err)
	}
	defer ch.Close()

	for name, kind := range map[string]string{runsExchange: exchangeType, reportsExchange: "fanout"} {
		err = ch.ExchangeDeclare(
			name,  // name
			kind,  // type
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange '%s': %w", name, err)
		}
		m.logger.Info("Declared exchange", slog.String("exchange", name), slog.String("type", kind))
	}
	return nil
}

// Close closes the RabbitMQ connection.
func (m *RabbitMQManager) Close() error {
	m.logger.Info("Closing RabbitMQ connection")
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Error("Failed to close RabbitMQ connection", slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}

// declareProjectQueue ensures a priority queue for the project exists and is bound to
// the runs exchange.
func (m *RabbitMQManager) declareProjectQueue(project string) error {
	if _, loaded := m.declaredQueues.Load(project); loaded {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, loaded := m.declaredQueues.Load(project); loaded {
		return nil
	}

	ch, err := m.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for queue declare: %w", err)
	}
	defer ch.Close()

	queueName := project
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		queueArgs(),
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", queueName, err)
	}
	if err = ch.QueueBind(queueName, queueName, runsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue '%s' to exchange '%s': %w", queueName, runsExchange, err)
	}

	m.declaredQueues.Store(queueName, true)
	m.logger.Info("Declared and bound queue", slog.String("queue", queueName), slog.String("exchange", runsExchange))
	return nil
}

func queueArgs() amqp.Table {
	return amqp.Table{"x-max-priority": int32(maxPriority)}
}

// messagePriority inverts the user priority: 0 is the most important run and maps onto
// the highest RabbitMQ priority. Values above maxPriority are clamped.
func messagePriority(userPriority uint8) uint8 {
	if userPriority > maxPriority {
		userPriority = maxPriority
	}
	return maxPriority - userPriority
}

// newRunMessage wraps req for publishing, assigning its report id when missing.
func newRunMessage(req *models.RunRequest, now time.Time) models.RunMessage {
	if req.ReportID == "" {
		req.ReportID = uuid.NewString()
	}
	req.EnqueuedAt = now
	return models.RunMessage{
		ID:         req.ReportID,
		Project:    req.Project,
		Request:    *req,
		Priority:   req.Priority,
		EnqueuedAt: now,
	}
}

func decodeRunMessage(body []byte) (*models.RunMessage, error) {
	var msg models.RunMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse run message: %w", err)
	}
	if msg.ID == "" || msg.Project == "" {
		return nil, errors.New("run message without id or project")
	}
	if msg.Request.ReportID == "" {
		msg.Request.ReportID = msg.ID
	}
	return &msg, nil
}

// EnqueueRun publishes a run request to its project's queue.
func (m *RabbitMQManager) EnqueueRun(req *models.RunRequest) (string, error) {
	if req == nil || req.Project == "" {
		return "", errors.New("run request without project")
	}
	if err := m.declareProjectQueue(req.Project); err != nil {
		return "", err
	}

	ch, err := m.conn.Channel()
	if err != nil {
		return "", fmt.Errorf("failed to open temporary channel for publish: %w", err)
	}
	defer ch.Close()

	if req.Priority > maxPriority {
		m.logger.Warn("User priority exceeds max queue priority, clamping",
			slog.Uint64("user_priority", uint64(req.Priority)),
			slog.Int("max_queue_priority_levels", maxPriority))
	}
	priority := messagePriority(req.Priority)

	msg := newRunMessage(req, time.Now().UTC())
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run message to JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		runsExchange, // exchange
		req.Project,  // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Priority:     priority,
			Timestamp:    msg.EnqueuedAt,
			Body:         body,
			MessageId:    msg.ID,
		})
	if err != nil {
		return "", fmt.Errorf("failed to publish run for project '%s': %w", req.Project, err)
	}

	m.logger.Info("Enqueued run",
		slog.String("report_id", msg.ID),
		slog.String("project", req.Project),
		slog.Int("cases", len(req.CaseIDs)),
		slog.Uint64("user_priority", uint64(req.Priority)),
		slog.Uint64("rabbitmq_priority", uint64(priority)),
	)
	return msg.ID, nil
}

// GetNextRun pulls one message from the project queue. The returned AckNacker owns the
// channel the message arrived on; the caller must settle it.
func (m *RabbitMQManager) GetNextRun(project string) (*models.RunMessage, queue.AckNacker, error) {
	if err := m.declareProjectQueue(project); err != nil {
		m.logger.Warn("Attempted to get run from undeclared queue", slog.String("project", project), slog.String("error", err.Error()))
		return nil, nil, nil
	}

	ch, err := m.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open channel for GetNextRun: %w", err)
	}
	if err = ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	delivery, ok, err := ch.Get(project, false)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to get message from queue '%s': %w", project, err)
	}
	if !ok {
		ch.Close()
		return nil, nil, nil
	}

	ackNacker := &deliveryAckNacker{
		deliveryTag: delivery.DeliveryTag,
		channel:     ch,
		logger:      m.logger.With(slog.String("report_id", delivery.MessageId)),
	}

	msg, err := decodeRunMessage(delivery.Body)
	if err != nil {
		m.logger.Error("Dropping malformed run message",
			slog.String("project", project),
			slog.String("message_id", delivery.MessageId),
			slog.String("error", err.Error()),
		)
		_ = ackNacker.Nack(false)
		return nil, nil, err
	}

	m.logger.Info("Dequeued run",
		slog.String("report_id", msg.ID),
		slog.String("project", msg.Project),
		slog.Uint64("priority", uint64(msg.Priority)),
	)
	return msg, ackNacker, nil
}

// GetQueueSize returns the message count of a project's queue using a passive declare.
func (m *RabbitMQManager) GetQueueSize(project string) (int, error) {
	ch, err := m.conn.Channel()
	if err != nil {
		if m.conn.IsClosed() {
			m.logger.Error("Cannot get queue size, connection is closed", slog.String("project", project))
			return 0, fmt.Errorf("connection is not open")
		}
		return 0, fmt.Errorf("failed to open temporary channel for queue size check: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(project, true, false, false, false, queueArgs())
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) {
			if amqpErr.Code == amqp.NotFound {
				return 0, nil
			}
			if amqpErr.Code == amqp.ChannelError || amqpErr.Code == amqp.ConnectionForced {
				return 0, fmt.Errorf("channel/connection error during passive declare: %w", err)
			}
		}
		return 0, fmt.Errorf("failed to passively declare queue '%s' to get size: %w", project, err)
	}
	return q.Messages, nil
}

// PublishReport broadcasts a finished report on the reports exchange.
func (m *RabbitMQManager) PublishReport(ctx context.Context, report *models.ReportSummary) error {
	ch, err := m.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for report publish: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report %s: %w", report.ID, err)
	}
	err = ch.PublishWithContext(ctx, reportsExchange, report.Project, false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
		MessageId:    report.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish report %s: %w", report.ID, err)
	}
	m.logger.Info("Published report", slog.String("report_id", report.ID), slog.String("result", string(report.Result)))
	return nil
}
