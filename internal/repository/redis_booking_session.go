package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisBookingSessionStore struct {
	client redis.UniversalClient
}

func NewRedisBookingSessionStore(client redis.UniversalClient) *RedisBookingSessionStore {
	return &RedisBookingSessionStore{
		client: client,
	}
}

func (r *RedisBookingSessionStore) Get(ctx context.Context, holderID int) (*domain.BookingSession, error) {
	sessionBytes, err := r.client.Get(ctx, bookingSessionKey(holderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrRecordNotFound
		}

		return nil, err
	}

	var session domain.BookingSession

	err = json.Unmarshal(sessionBytes, &session)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal booking session of holder %d: %w", holderID, err)
	}

	return &session, nil
}

func (r *RedisBookingSessionStore) Save(ctx context.Context, session *domain.BookingSession, ttl time.Duration) error {
	sessionBytes, err := json.Marshal(session)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, bookingSessionKey(session.HolderID), sessionBytes, ttl).Err()
}

func (r *RedisBookingSessionStore) Delete(ctx context.Context, holderID int) error {
	return r.client.Del(ctx, bookingSessionKey(holderID)).Err()
}

func bookingSessionKey(holderID int) string {
	return fmt.Sprintf("booking:%d", holderID)
}
