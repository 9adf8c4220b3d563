package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func init() {
	Register("amqp", createAMQPSender)
}

type AMQPConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// envelope is the queue payload; a downstream mailer owns rendering policy.
type envelope struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	Link    string `json:"link"`
	SentAt  int64  `json:"sent_at"`
}

// AMQPSender publishes notifications to a durable queue. The connection is
// dialed lazily and re-dialed after it closes.
type AMQPSender struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func createAMQPSender(args interface{}) (Sender, error) {
	var cfg AMQPConfig
	if err := decodeConfig(args, &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if strings.TrimSpace(cfg.Queue) == "" {
		cfg.Queue = "mshop.notifications"
	}
	return &AMQPSender{url: cfg.URL, queue: cfg.Queue}, nil
}

func (s *AMQPSender) channel() (*amqp.Channel, error) {
	if s.conn != nil && !s.conn.IsClosed() && s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	s.closeLocked()
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare queue: %w", err)
	}
	s.conn, s.ch = conn, ch
	return ch, nil
}

func (s *AMQPSender) Deliver(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(envelope{
		Kind:    msg.Kind,
		To:      msg.To,
		UserID:  msg.UserID,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
		Link:    msg.Link,
		SentAt:  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *AMQPSender) closeLocked() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
