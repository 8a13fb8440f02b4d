package mocks

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

// MockRedisClient covers the commands the seat lock and booking session stores issue.
// Seat lock scripts run through redis.Script, which tries EVALSHA first and falls back
// to EVAL on NOSCRIPT.
type MockRedisClient struct {
	mock.Mock
	redis.UniversalClient
}

// OnScript expects one EVALSHA of any seat lock script with exactly these keys and args.
func (m *MockRedisClient) OnScript(keys []string, args ...any) *mock.Call {
	return m.On("EvalSha", mock.Anything, mock.Anything, keys, scriptArgs(args)).Once()
}

// OnAnyScript expects one EVALSHA regardless of keys and args.
func (m *MockRedisClient) OnAnyScript() *mock.Call {
	return m.On("EvalSha", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Once()
}

// OnScriptNotCached makes the next EVALSHA miss the script cache so the EVAL fallback
// with keys and args runs instead.
func (m *MockRedisClient) OnScriptNotCached(keys []string, args ...any) *mock.Call {
	m.OnAnyScript().Return(ScriptResult(nil, ReplyError("NOSCRIPT No matching script")))
	return m.On("Eval", mock.Anything, mock.Anything, keys, scriptArgs(args)).Once()
}

// ScriptResult builds the reply of a script call.
func ScriptResult(val any, err error) *redis.Cmd {
	return redis.NewCmdResult(val, err)
}

// redis.Script passes a nil slice when a script takes no arguments.
func scriptArgs(args []any) []any {
	if len(args) == 0 {
		return nil
	}

	return args
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *MockRedisClient) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringSliceCmd)
}

func (m *MockRedisClient) SRem(ctx context.Context, key string, members ...any) *redis.IntCmd {
	args := m.Called(ctx, key, members)
	return args.Get(0).(*redis.IntCmd)
}

func (m *MockRedisClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	result := m.Called(ctx, sha1, keys, args)
	return result.Get(0).(*redis.Cmd)
}

func (m *MockRedisClient) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	result := m.Called(ctx, script, keys, args)
	return result.Get(0).(*redis.Cmd)
}

// ReplyError is an error reply from the server, such as the SEAT_LOCKED or
// LOCK_NOT_OWNED errors the seat lock scripts raise.
type ReplyError string

func (e ReplyError) Error() string {
	return string(e)
}

// RedisError marks the value as a server reply for redis.HasErrorPrefix.
func (ReplyError) RedisError() {}
