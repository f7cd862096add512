package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/models"
)

// RedisStore handles Redis operations for ephemeral state and live delivery.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client, logger: logger}, nil
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SetCode stores a verification code with a TTL.
func (s *RedisStore) SetCode(ctx context.Context, email, code string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, codeKey(email), code, ttl)
	pipe.Del(ctx, attemptsKey(email))
	_, err := pipe.Exec(ctx)
	return err
}

// GetCode returns the stored verification code.
func (s *RedisStore) GetCode(ctx context.Context, email string) (string, error) {
	code, err := s.client.Get(ctx, codeKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return code, err
}

// DeleteCode removes a verification code and its attempt counter.
func (s *RedisStore) DeleteCode(ctx context.Context, email string) error {
	return s.client.Del(ctx, codeKey(email), attemptsKey(email)).Err()
}

// CodeAttempt increments the attempt counter. The counter lives as long as the
// code, or attemptsTTL when the code is already gone.
func (s *RedisStore) CodeAttempt(ctx context.Context, email string) (int64, error) {
	key := attemptsKey(email)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		ttl, err := s.client.TTL(ctx, codeKey(email)).Result()
		if err != nil || ttl <= 0 {
			ttl = attemptsTTL
		}
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// RevokeToken denylists a token id until it would have expired anyway.
func (s *RedisStore) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, revokedKey(jti), "1", ttl).Err()
}

// IsTokenRevoked checks the denylist.
func (s *RedisStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	return n > 0, err
}

// conversationChannel returns the Pub/Sub channel for a conversation's messages.
func conversationChannel(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

// Publish broadcasts a newly stored message to every subscriber of its conversation.
func (s *RedisStore) Publish(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, conversationChannel(msg.ConversationID), data).Err()
}

// Subscribe opens a live stream of messages inserted into a conversation.
// It returns once Redis has confirmed the subscription.
func (s *RedisStore) Subscribe(ctx context.Context, conversationID uuid.UUID) (Subscription, error) {
	ps := s.client.Subscribe(ctx, conversationChannel(conversationID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	sub := &redisSubscription{
		ps:     ps,
		logger: s.logger,
		events: make(chan models.Message, 16),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go sub.run(ps.Channel())
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	logger zerolog.Logger
	events chan models.Message
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) run(in <-chan *redis.Message) {
	defer close(s.exited)
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			var msg models.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.logger.Warn().Err(err).Str("channel", m.Channel).Msg("dropping malformed message event")
				continue
			}
			select {
			case s.events <- msg:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Events() <-chan models.Message {
	return s.events
}

// Close unsubscribes and waits for the delivery goroutine to exit.
func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
		<-s.exited
	})
	return s.err
}
