package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type dbStub struct {
	err error
}

func (d dbStub) IsUpAndRunning(context.Context) error {
	return d.err
}

func newChecker(t *testing.T, db DB) (*Checker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewChecker(client, db, &Config{
		RedisCheckInterval: time.Second,
		DBCheckInterval:    time.Second,
		CheckTimeout:       time.Second,
		ID:                 "test",
	}), mr
}

func TestChecker_Healthy(t *testing.T) {
	checker, _ := newChecker(t, dbStub{})
	ctx := context.Background()

	checker.CheckRedis(ctx)
	checker.CheckDB(ctx)

	status := checker.GetHealthStatus()
	assert.True(t, status.Healthy)
	assert.True(t, status.Checks[ComponentRedis].Result)
	assert.True(t, status.Checks[ComponentDB].Result)
}

func TestChecker_DBDown(t *testing.T) {
	checker, _ := newChecker(t, dbStub{err: errors.New("connection refused")})

	checker.CheckDB(context.Background())

	status := checker.GetHealthStatus()
	assert.False(t, status.Healthy)
	assert.False(t, status.Checks[ComponentDB].Result)
	assert.True(t, status.Checks[ComponentRedis].Result)
}

func TestChecker_RedisDown(t *testing.T) {
	checker, mr := newChecker(t, dbStub{})
	mr.Close()

	checker.CheckRedis(context.Background())

	status := checker.GetHealthStatus()
	assert.False(t, status.Healthy)
	assert.False(t, status.Checks[ComponentRedis].Result)
}
