package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/pkg/config"
	"sceneflow/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const noticesExchange = "notices_topic"

// NoticeRabbit publishes order notices for the external mail relay.
type NoticeRabbit struct {
	Conn       *amqp.Connection
	Ch         *amqp.Channel
	DurationMs time.Duration
	url        string
	logger     *logger.Logger
}

var _ ports.NotifierInterface = (*NoticeRabbit)(nil)

func NewNoticeRabbit(logger *logger.Logger, cfg config.Config) (*NoticeRabbit, error) {
	r := &NoticeRabbit{url: cfg.RabbitURL(), logger: logger}
	if err := r.connect(); err != nil {
		return nil, err
	}

	// Watch for close signals
	go r.handleReconnect(5 * time.Second)

	return r, nil
}

func (r *NoticeRabbit) connect() error {
	start := time.Now()

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := setupNoticeChannel(ch); err != nil {
		conn.Close()
		return err
	}

	r.Conn = conn
	r.Ch = ch
	r.DurationMs = time.Duration(time.Since(start).Milliseconds())

	r.logger.Info("", "rabbitmq_connected", "Connected to RabbitMQ exchange "+noticesExchange, nil)
	return nil
}

func (r *NoticeRabbit) handleReconnect(backoff time.Duration) {
	errs := make(chan *amqp.Error)
	r.Conn.NotifyClose(errs)
	for e := range errs {
		r.logger.Warn("", "rabbitmq_closed", "RabbitMQ connection closed, reconnecting", e, nil)
		// Retry with backoff
		for {
			time.Sleep(backoff)
			if err := r.connect(); err != nil {
				r.logger.Warn("", "rabbitmq_reconnect_failed", "Reconnect failed", err, nil)
				continue
			}
			// Restart notify channel
			errs = make(chan *amqp.Error)
			r.Conn.NotifyClose(errs)
			break
		}
	}
}

func setupNoticeChannel(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		noticesExchange, // name
		"topic",         // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // args
	)
}

func (r *NoticeRabbit) publish(ctx context.Context, notice domain.Notice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	routingKey := fmt.Sprintf("notice.%s", notice.Kind)

	err = r.Ch.PublishWithContext(
		ctx,
		noticesExchange, // exchange
		routingKey,      // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s notice: %w", notice.Kind, err)
	}

	return nil
}

func (r *NoticeRabbit) SendInitial(ctx context.Context, order domain.Order) error {
	return r.publish(ctx, domain.Notice{
		Kind:      domain.NoticeInitial,
		OrderID:   order.OrderID,
		Email:     order.Email,
		TimeStamp: time.Now().UTC(),
	})
}

func (r *NoticeRabbit) SendCompletion(ctx context.Context, order domain.Order) error {
	return r.publish(ctx, domain.Notice{
		Kind:      domain.NoticeCompletion,
		OrderID:   order.OrderID,
		Email:     order.Email,
		TimeStamp: time.Now().UTC(),
	})
}

func (r *NoticeRabbit) SendCancellation(ctx context.Context, order domain.Order) error {
	return r.publish(ctx, domain.Notice{
		Kind:      domain.NoticeCancellation,
		OrderID:   order.OrderID,
		Email:     order.Email,
		TimeStamp: time.Now().UTC(),
	})
}

func (r *NoticeRabbit) SendPurgeReport(ctx context.Context, report domain.PurgeReport) error {
	return r.publish(ctx, domain.Notice{
		Kind:      domain.NoticePurgeReport,
		TimeStamp: time.Now().UTC(),
		Extra:     report,
	})
}

func (r *NoticeRabbit) Close() {
	if r.Ch != nil {
		r.Ch.Close()
	}
	if r.Conn != nil {
		r.Conn.Close()
	}
}
