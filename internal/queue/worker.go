package queue

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, body []byte) error

// PermanentError marks a handler failure that retrying cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDead
)

func decide(err error, headers amqp.Table, maxRetries int) outcome {
	if err == nil {
		return outcomeAck
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return outcomeDead
	}
	if getRetryCount(headers) >= maxRetries {
		return outcomeDead
	}
	return outcomeRetry
}

// ConsumeWithRetry handles deliveries until ctx is done or the channel closes.
// Failed deliveries are republished with an incremented x-retry-count header;
// permanent failures and exhausted retries are rejected to the dead-letter
// queue.
func (c *Client) ConsumeWithRetry(ctx context.Context, queue string, handler HandlerFunc, maxRetries int, retryDelay time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	msgs, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		var msg amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case msg, ok = <-msgs:
		}
		if !ok {
			return errors.New("consumer closed")
		}

		err := handler(ctx, msg.Body)
		switch decide(err, msg.Headers, maxRetries) {
		case outcomeAck:
			_ = msg.Ack(false)
		case outcomeDead:
			logger.Warn("message dead-lettered", zap.String("queue", queue), zap.Int("retries", getRetryCount(msg.Headers)), zap.Error(err))
			_ = msg.Nack(false, false)
		case outcomeRetry:
			retryCount := getRetryCount(msg.Headers) + 1
			headers := msg.Headers
			if headers == nil {
				headers = amqp.Table{}
			}
			headers["x-retry-count"] = retryCount
			logger.Info("message retry scheduled", zap.String("queue", queue), zap.Int("attempt", retryCount), zap.Error(err))

			select {
			case <-ctx.Done():
				_ = msg.Nack(false, true)
				return nil
			case <-time.After(retryDelay):
			}
			_ = c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
				ContentType: msg.ContentType,
				Body:        msg.Body,
				Headers:     headers,
				Timestamp:   time.Now(),
			})
			_ = msg.Ack(false)
		}
	}
}

func getRetryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	if v, ok := headers["x-retry-count"]; ok {
		switch t := v.(type) {
		case int32:
			return int(t)
		case int64:
			return int(t)
		case int:
			return t
		}
	}
	return 0
}
