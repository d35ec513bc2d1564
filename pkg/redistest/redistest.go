// Package redistest runs an ephemeral Redis server for unit tests.
package redistest

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.palytt.app/swarm/pkg/exectest"
)

// Redis is a Redis server and client for use in end-to-end unit tests.
type Redis struct {
	Cmd    *exec.Cmd
	Client *redis.Client

	bg      *exectest.Background
	tempDir string
}

// NewRedis starts an ephemeral Redis server and returns a client.
func NewRedis(ctx context.Context, t testing.TB) *Redis {
	dir, err := os.MkdirTemp("", "redistest-")
	if err != nil {
		panic("failed to get temp dir: " + err.Error())
	}
	socket := filepath.Join(dir, "redis.sock")
	redisCmd := exec.CommandContext(ctx, "redis-server",
		"--port", "0",
		"--unixsocket", socket,
		"--unixsocketperm", "700",
		"--loglevel", "verbose")
	redisCmd.Dir = dir
	bg := exectest.NewBackground(t, redisCmd)
	bg.Name = "redis"
	bg.LogStdout = true
	bg.LogStderr = true
	bg.Start()
	client := redis.NewClient(&redis.Options{
		Network: "unix",
		Addr:    socket,
	})
	// Give Redis a moment to start up.
	startupTicker := time.NewTicker(100 * time.Millisecond)
	defer startupTicker.Stop()
	var pingErr error
tryLoop:
	for try := 0; try < 30; try++ {
		if try > 0 {
			select {
			case <-startupTicker.C:
			case <-bg.Done():
				break tryLoop
			}
		}
		pingErr = client.Ping(ctx).Err()
		if errors.Is(pingErr, redis.ErrClosed) {
			continue // Redis still not up
		} else if errors.Is(pingErr, os.ErrNotExist) {
			continue // Redis hasn't created the socket yet
		} else if pingErr != nil {
			t.Fatal("Failed to ping Redis:", pingErr.Error())
		}
		t.Log("redistest: Redis is up")
		return &Redis{
			Cmd:    redisCmd,
			Client: client,

			bg:      bg,
			tempDir: dir,
		}
	}
	if err := bg.Err(); err != nil {
		t.Fatal("Subprocess failed:", err)
	}
	t.Fatal("Failed to ping Redis:", pingErr)
	return nil
}

// Close shuts down the server and client.
func (r *Redis) Close(t testing.TB) {
	t.Log("redistest: Removing", r.tempDir)
	_ = r.Client.Close()
	r.bg.Close()
	_ = os.RemoveAll(r.tempDir)
}

// Kill stops the Redis server but keeps the client, to simulate an outage.
func (r *Redis) Kill(t testing.TB) {
	t.Log("redistest: Killing server")
	r.bg.Close()
}
