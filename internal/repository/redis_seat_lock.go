package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	bookedPrefix     = "booked:"
	lockShowtimesKey = "seat_lock_showtimes"

	errSeatLocked    = "SEAT_LOCKED"
	errLockNotOwned  = "LOCK_NOT_OWNED"
	defaultBookedTTL = 72 * time.Hour
)

var acquireSeatsScript = redis.NewScript(`
	-- KEYS[1] = seat set key, KEYS[2] = showtime index key, KEYS[3..] = seat lock keys
	-- ARGV = [holder, ttlMillis, showtimeId, seatIds...]

	for i=3, #KEYS do
		local value = redis.call("GET", KEYS[i])
		if value and value ~= ARGV[1] then
			return redis.error_reply("SEAT_LOCKED")
		end
	end

	for i=3, #KEYS do
		redis.call("SET", KEYS[i], ARGV[1], "PX", ARGV[2])
		redis.call("SADD", KEYS[1], ARGV[i+1])
	end

	redis.call("SADD", KEYS[2], ARGV[3])

	return "OK"
`)

var renewSeatsScript = redis.NewScript(`
	-- KEYS = seat lock keys
	-- ARGV = [holder, ttlMillis]

	for i=1, #KEYS do
		if redis.call("GET", KEYS[i]) ~= ARGV[1] then
			return redis.error_reply("LOCK_NOT_OWNED")
		end
	end

	for i=1, #KEYS do
		redis.call("PEXPIRE", KEYS[i], ARGV[2])
	end

	return "OK"
`)

var releaseSeatsScript = redis.NewScript(`
	-- KEYS[1] = seat set key, KEYS[2..] = seat lock keys
	-- ARGV = [holder or "", seatIds...]
	-- An empty holder releases any lock that is not a booking.

	for i=2, #KEYS do
		local value = redis.call("GET", KEYS[i])

		if value then
			local booked = string.sub(value, 1, 7) == "booked:"
			if not booked and (ARGV[1] == "" or value == ARGV[1]) then
				redis.call("DEL", KEYS[i])
				redis.call("SREM", KEYS[1], ARGV[i])
			end
		else
			redis.call("SREM", KEYS[1], ARGV[i])
		end
	end

	return "OK"
`)

var markBookedScript = redis.NewScript(`
	-- KEYS[1] = seat set key, KEYS[2..] = seat lock keys
	-- ARGV = [marker, ttlMillis, seatIds...]

	for i=2, #KEYS do
		redis.call("SET", KEYS[i], ARGV[1], "PX", ARGV[2])
		redis.call("SREM", KEYS[1], ARGV[i+1])
	end

	return "OK"
`)

var seatStatesScript = redis.NewScript(`
	-- KEYS = seat lock keys
	-- Returns a flat list of value, pttl pairs. Missing keys yield "" and -2.

	local result = {}

	for i=1, #KEYS do
		local value = redis.call("GET", KEYS[i])
		if value then
			table.insert(result, value)
			table.insert(result, redis.call("PTTL", KEYS[i]))
		else
			table.insert(result, "")
			table.insert(result, -2)
		end
	end

	return result
`)

var sweepSeatsScript = redis.NewScript(`
	-- KEYS[1] = seat set key, KEYS[2] = showtime index key
	-- ARGV = [showtimeId]

	local setKey = KEYS[1]
	local showtimeId = ARGV[1]
	local cursor = "0"
	local batchSize = 100
	local expiredSeats = {}

	repeat
		local result = redis.call("SSCAN", setKey, cursor, "COUNT", batchSize)
		cursor = result[1]
		local seatIds = result[2]

		for _, seatId in ipairs(seatIds) do
			local lockKey = "seat_lock:" .. showtimeId .. ":" .. seatId
			local value = redis.call("GET", lockKey)
			if not value or string.sub(value, 1, 7) == "booked:" then
				table.insert(expiredSeats, seatId)
			end
		end
	until cursor == "0"

	if #expiredSeats > 0 then
		redis.call("SREM", setKey, unpack(expiredSeats))
	end

	if redis.call("SCARD", setKey) == 0 then
		redis.call("SREM", KEYS[2], showtimeId)
	end

	return #expiredSeats
`)

// RedisSeatLockStore keeps seat locks as Redis keys with a millisecond TTL. Each lock key
// holds either the holder ID or a booked marker, and every multi-seat mutation runs as a
// single Lua script.
type RedisSeatLockStore struct {
	client    redis.UniversalClient
	clock     clock.Clock
	bookedTTL time.Duration
}

func NewRedisSeatLockStore(client redis.UniversalClient, clk clock.Clock, bookedTTL time.Duration) *RedisSeatLockStore {
	if bookedTTL <= 0 {
		bookedTTL = defaultBookedTTL
	}

	return &RedisSeatLockStore{
		client:    client,
		clock:     clk,
		bookedTTL: bookedTTL,
	}
}

func (r *RedisSeatLockStore) Acquire(
	ctx context.Context,
	showtimeID int,
	seatIDs []int,
	holderID int,
	ttl time.Duration) (time.Time, error) {

	keys := append([]string{seatSetKey(showtimeID), lockShowtimesKey}, seatLockKeys(showtimeID, seatIDs)...)
	args := append([]any{holderValue(holderID), ttl.Milliseconds(), showtimeID}, seatArgs(seatIDs)...)

	now := r.clock.Now()

	err := acquireSeatsScript.Run(ctx, r.client, keys, args...).Err()
	if err != nil {
		if redis.HasErrorPrefix(err, errSeatLocked) {
			return time.Time{}, domain.ErrSeatUnavailable
		}

		return time.Time{}, fmt.Errorf("failed to acquire seat locks: %w", err)
	}

	return now.Add(ttl), nil
}

func (r *RedisSeatLockStore) Renew(
	ctx context.Context,
	showtimeID int,
	seatIDs []int,
	holderID int,
	ttl time.Duration) (time.Time, error) {

	now := r.clock.Now()

	err := renewSeatsScript.Run(
		ctx,
		r.client,
		seatLockKeys(showtimeID, seatIDs),
		holderValue(holderID),
		ttl.Milliseconds()).Err()

	if err != nil {
		if redis.HasErrorPrefix(err, errLockNotOwned) {
			return time.Time{}, domain.ErrLockNotOwned
		}

		return time.Time{}, fmt.Errorf("failed to renew seat locks: %w", err)
	}

	return now.Add(ttl), nil
}

func (r *RedisSeatLockStore) Release(ctx context.Context, showtimeID int, seatIDs []int) error {
	return r.release(ctx, showtimeID, seatIDs, "")
}

func (r *RedisSeatLockStore) ReleaseHeld(ctx context.Context, showtimeID int, seatIDs []int, holderID int) error {
	return r.release(ctx, showtimeID, seatIDs, holderValue(holderID))
}

func (r *RedisSeatLockStore) release(ctx context.Context, showtimeID int, seatIDs []int, holder string) error {
	keys := append([]string{seatSetKey(showtimeID)}, seatLockKeys(showtimeID, seatIDs)...)
	args := append([]any{holder}, seatArgs(seatIDs)...)

	err := releaseSeatsScript.Run(ctx, r.client, keys, args...).Err()
	if err != nil {
		return fmt.Errorf("failed to release seat locks: %w", err)
	}

	return nil
}

func (r *RedisSeatLockStore) MarkBooked(ctx context.Context, showtimeID int, seatIDs []int, holderID int) error {
	keys := append([]string{seatSetKey(showtimeID)}, seatLockKeys(showtimeID, seatIDs)...)
	args := append([]any{bookedPrefix + holderValue(holderID), r.bookedTTL.Milliseconds()}, seatArgs(seatIDs)...)

	err := markBookedScript.Run(ctx, r.client, keys, args...).Err()
	if err != nil {
		return fmt.Errorf("failed to mark seats as booked: %w", err)
	}

	return nil
}

func (r *RedisSeatLockStore) States(ctx context.Context, showtimeID int, seatIDs []int) ([]domain.SeatState, error) {
	if len(seatIDs) == 0 {
		return []domain.SeatState{}, nil
	}

	now := r.clock.Now()

	result, err := seatStatesScript.Run(ctx, r.client, seatLockKeys(showtimeID, seatIDs)).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read seat states: %w", err)
	}

	if len(result) != 2*len(seatIDs) {
		return nil, fmt.Errorf("unexpected seat state reply length %d", len(result))
	}

	states := make([]domain.SeatState, len(seatIDs))

	for i, seatID := range seatIDs {
		value, _ := result[2*i].(string)
		pttl, _ := result[2*i+1].(int64)

		state, err := parseSeatState(showtimeID, seatID, value, pttl, now)
		if err != nil {
			return nil, err
		}

		states[i] = state
	}

	return states, nil
}

// Sweep removes expired and booked seats from the per-showtime lock sets.
func (r *RedisSeatLockStore) Sweep(ctx context.Context) (int, error) {
	showtimeIDs, err := r.client.SMembers(ctx, lockShowtimesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list locked showtimes: %w", err)
	}

	removed := 0

	for _, member := range showtimeIDs {
		showtimeID, err := strconv.Atoi(member)
		if err != nil {
			r.client.SRem(ctx, lockShowtimesKey, member)
			continue
		}

		n, err := sweepSeatsScript.Run(
			ctx,
			r.client,
			[]string{seatSetKey(showtimeID), lockShowtimesKey},
			showtimeID).Int()

		if err != nil {
			return removed, fmt.Errorf("failed to sweep seat locks of showtime %d: %w", showtimeID, err)
		}

		removed += n
	}

	return removed, nil
}

func parseSeatState(showtimeID, seatID int, value string, pttl int64, now time.Time) (domain.SeatState, error) {
	state := domain.SeatState{
		ShowtimeID: showtimeID,
		SeatID:     seatID,
		Status:     domain.SeatStatusAvailable,
	}

	if value == "" || pttl == -2 {
		return state, nil
	}

	holder, booked := strings.CutPrefix(value, bookedPrefix)

	holderID, err := strconv.Atoi(holder)
	if err != nil {
		return state, fmt.Errorf("malformed seat lock value %q: %w", value, err)
	}

	state.HolderID = holderID

	if booked {
		state.Status = domain.SeatStatusBooked
		return state, nil
	}

	state.Status = domain.SeatStatusLocked
	state.ExpiresAt = now.Add(time.Duration(pttl) * time.Millisecond)

	return state, nil
}

func holderValue(holderID int) string {
	return strconv.Itoa(holderID)
}

func seatLockKeys(showtimeID int, seatIDs []int) []string {
	keys := make([]string, len(seatIDs))
	for i, seatID := range seatIDs {
		keys[i] = seatLockKey(showtimeID, seatID)
	}

	return keys
}

func seatArgs(seatIDs []int) []any {
	args := make([]any, len(seatIDs))
	for i, seatID := range seatIDs {
		args[i] = seatID
	}

	return args
}

func seatLockKey(showtimeID, seatID int) string {
	return fmt.Sprintf("seat_lock:%d:%d", showtimeID, seatID)
}

func seatSetKey(showtimeID int) string {
	return fmt.Sprintf("seat_locks:%d", showtimeID)
}
