package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"civicreport/models"
)

// Routing keys for issue lifecycle events.
const (
	RoutingKeySubmitted = "issue.submitted"
	RoutingKeyVoted     = "issue.voted"
)

// IssueEvent is the message published when an issue is submitted. The image
// stays out of the event; consumers fetch it over the API when they need it.
type IssueEvent struct {
	Seq       int64           `json:"seq"`
	Title     string          `json:"title"`
	Category  models.Category `json:"category"`
	Severity  models.Severity `json:"severity"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Timestamp time.Time       `json:"timestamp"`
}

// VoteEvent is the message published after a vote is recorded.
type VoteEvent struct {
	Seq       int64     `json:"seq"`
	VoteCount int       `json:"vote_count"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher fans issue events out to a direct exchange. The connection is
// re-established lazily when a publish finds it closed.
type Publisher struct {
	mu       sync.Mutex
	amqpURL  string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
}

// NewPublisher connects to RabbitMQ and declares the exchange.
func NewPublisher(amqpURL, exchange string) (*Publisher, error) {
	p := &Publisher{
		amqpURL:  amqpURL,
		exchange: exchange,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// PublishIssueSubmitted announces a freshly stored issue.
func (p *Publisher) PublishIssueSubmitted(issue *models.Issue) error {
	return p.publishJSON(RoutingKeySubmitted, IssueEvent{
		Seq:       issue.Seq,
		Title:     issue.Title,
		Category:  issue.Category,
		Severity:  issue.Severity,
		Latitude:  issue.Location.Latitude,
		Longitude: issue.Location.Longitude,
		Timestamp: time.Now(),
	})
}

// PublishVote announces an updated vote tally.
func (p *Publisher) PublishVote(seq int64, tally *models.VoteTally) error {
	return p.publishJSON(RoutingKeyVoted, VoteEvent{
		Seq:       seq,
		VoteCount: tally.VoteCount,
		Upvotes:   tally.Upvotes,
		Downvotes: tally.Downvotes,
		Timestamp: time.Now(),
	})
}

func (p *Publisher) publishJSON(routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.channel == nil {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	err = p.channel.Publish(p.exchange, routingKey, false, false, publishing)
	if err != nil && isConnClosedErr(err) {
		// One reconnect attempt; a broker outage surfaces to the caller.
		p.closeLocked()
		if connErr := p.connectLocked(); connErr != nil {
			return fmt.Errorf("failed to publish message: %w (reconnect failed: %v)", err, connErr)
		}
		err = p.channel.Publish(p.exchange, routingKey, false, false, publishing)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// IsConnected indicates whether the publisher currently has an open
// connection and channel.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil
}

// Close closes the publisher connection and channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		if channelErr := p.channel.Close(); channelErr != nil {
			log.Printf("Failed to close channel: %v", channelErr)
			err = channelErr
		}
	}
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil {
			log.Printf("Failed to close connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
	}
	return err
}

func (p *Publisher) connectLocked() error {
	conn, err := amqp.Dial(p.amqpURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	return nil
}

func (p *Publisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func isConnClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "channel/connection is not open")
}
