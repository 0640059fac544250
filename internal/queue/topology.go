package queue

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RoutingOrderNew      = "order.new"
	RoutingBoardReloaded = "board.reloaded"
	CommandsBinding      = "command.#"
	deadRoutingKey       = "dead.command"
)

// EnsureTopology declares the events exchange and the commands queue with its
// dead-letter queue. Commands that exhaust their retries land in
// <commandsQueue>.dlq.
func EnsureTopology(qc *Client, exchange, commandsQueue string) error {
	if qc == nil {
		return nil
	}
	if err := qc.EnsureExchange(exchange, "topic"); err != nil {
		return err
	}

	dlq := commandsQueue + ".dlq"
	if _, err := qc.EnsureQueue(dlq, nil); err != nil {
		return err
	}
	if err := qc.BindQueue(dlq, exchange, deadRoutingKey); err != nil {
		return err
	}

	_, err := qc.EnsureQueue(commandsQueue, amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": deadRoutingKey,
	})
	if err != nil {
		return err
	}
	return qc.BindQueue(commandsQueue, exchange, CommandsBinding)
}
