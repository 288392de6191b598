package broker

import (
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

type pooledChannel struct {
	channel     *amqp.Channel
	notifyClose chan *amqp.Error
}

func newPooledChannel(conn *amqp.Connection) (*pooledChannel, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	return &pooledChannel{
		channel:     channel,
		notifyClose: channel.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

// closed reports whether the server closed the channel.
func (p *pooledChannel) closed() (*amqp.Error, bool) {
	select {
	case err, ok := <-p.notifyClose:
		if !ok {
			return nil, true
		}
		return err, true
	default:
		return nil, false
	}
}

func (r *rabbitMqBroker) newConnection() (*amqp.Connection, error) {
	conn, err := amqp.Dial(r.settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	// Set up a channel to handle connection close notifications
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		for err := range notifyClose {
			r.logger.Warn("RabbitMQ connection closed", zap.Error(err))
		}
	}()
	return conn, nil
}

func (r *rabbitMqBroker) connectAndInitialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Close existing connection if it exists
	if r.connection != nil && !r.connection.IsClosed() {
		r.connection.Close()
	}
	r.drainPool()

	connection, err := r.newConnection()
	if err != nil {
		return err
	}
	r.connection = connection

	// Reinitialize the channel pool
	for i := 0; i < r.settings.PoolSize; i++ {
		pooled, err := newPooledChannel(connection)
		if err != nil {
			return err
		}
		r.channelPool <- pooled
	}

	r.logger.Info("RabbitMQ connection and channel pool initialized",
		zap.Int("pool_size", r.settings.PoolSize))
	return nil
}

// drainPool closes every pooled channel. Callers hold r.mu.
func (r *rabbitMqBroker) drainPool() {
	for {
		select {
		case pooled := <-r.channelPool:
			pooled.channel.Close()
		default:
			return
		}
	}
}

func (r *rabbitMqBroker) recoverConnection() {
	for {
		select {
		case <-r.reconnectTicker.C:
			r.mu.Lock()
			down := r.connection == nil || r.connection.IsClosed()
			r.mu.Unlock()
			if !down {
				continue
			}
			r.logger.Info("Attempting to reconnect to RabbitMQ")
			if err := r.connectAndInitialize(); err != nil {
				r.logger.Error("Failed to reconnect to RabbitMQ", zap.Error(err))
			} else {
				r.logger.Info("Reconnected to RabbitMQ")
			}
		case <-r.stopReconnect:
			r.logger.Debug("Stopping RabbitMQ connection recovery")
			return
		}
	}
}

func (r *rabbitMqBroker) getChannel() (*pooledChannel, error) {
	for {
		select {
		case pooled := <-r.channelPool:
			if err, closed := pooled.closed(); closed {
				r.logger.Debug("Discarding closed channel", zap.Error(err))
				continue
			}
			return pooled, nil
		default:
			// Create a new channel if none are available
			r.mu.Lock()
			conn := r.connection
			r.mu.Unlock()
			if conn == nil || conn.IsClosed() {
				return nil, amqp.ErrClosed
			}
			return newPooledChannel(conn)
		}
	}
}

func (r *rabbitMqBroker) releaseChannel(pooled *pooledChannel) {
	if err, closed := pooled.closed(); closed {
		r.logger.Debug("Discarding closed channel", zap.Error(err))
		return
	}
	select {
	case r.channelPool <- pooled:
	default:
		// Pool is full, close the channel
		pooled.channel.Close()
	}
}
