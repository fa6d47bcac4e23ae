package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Environment holds the shared Redis and NATS instances used by integration tests
type Environment struct {
	RedisURL  string
	NATSURL   string
	Redis     *redis.Client
	NATS      *nats.Conn
	JetStream nats.JetStreamContext
}

var (
	once sync.Once

	shared  *Environment
	initErr error

	// Cleanup function
	globalCleanup func()
)

// GetTestEnvironment returns the shared environment, starting the containers on first use.
// Redis is flushed on every call.
func GetTestEnvironment(ctx context.Context) (*Environment, error) {
	once.Do(func() {
		shared, initErr = setupGlobalTestEnvironment(ctx)
	})

	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize test environment: %w", initErr)
	}

	// Reset data between tests
	if err := shared.Redis.FlushAll(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to flush Redis: %w", err)
	}

	return shared, nil
}

// RequireEnvironment skips the test when no container provider is available
func RequireEnvironment(t *testing.T) *Environment {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	env, err := GetTestEnvironment(context.Background())
	if err != nil {
		t.Fatalf("test environment: %v", err)
	}
	return env
}

// CleanupTestEnvironment should be called from TestMain after all tests
func CleanupTestEnvironment() {
	if globalCleanup != nil {
		globalCleanup()
	}
}

// setupGlobalTestEnvironment initializes containers once
func setupGlobalTestEnvironment(ctx context.Context) (*Environment, error) {
	redisC, err := tcRedis.Run(ctx, "redis:7")
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis: %w", err)
	}

	redisURL, err := redisC.ConnectionString(ctx)
	if err != nil {
		_ = redisC.Terminate(ctx)
		return nil, err
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		_ = redisC.Terminate(ctx)
		return nil, err
	}
	rc := redis.NewClient(opts)
	if _, err := rc.Ping(ctx).Result(); err != nil {
		_ = redisC.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	// NATS with JetStream on tmpfs
	natsReq := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"-js", "-sd", "/data/jetstream"},
			Tmpfs:        map[string]string{"/data/jetstream": "rw"},
			WaitingFor:   wait.ForLog("Listening for client connections").WithStartupTimeout(10 * time.Second),
		},
		Started: true,
	}

	natsC, err := testcontainers.GenericContainer(ctx, natsReq)
	if err != nil {
		_ = redisC.Terminate(ctx)
		return nil, fmt.Errorf("failed to start NATS: %w", err)
	}

	natsHost, err := natsC.Host(ctx)
	if err != nil {
		return nil, err
	}
	natsPort, err := natsC.MappedPort(ctx, "4222/tcp")
	if err != nil {
		return nil, err
	}
	natsURL := fmt.Sprintf("nats://%s:%s", natsHost, natsPort.Port())

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	globalCleanup = func() {
		ctx := context.Background()
		nc.Close()
		_ = rc.Close()
		_ = natsC.Terminate(ctx)
		_ = redisC.Terminate(ctx)
	}

	return &Environment{
		RedisURL:  redisURL,
		NATSURL:   natsURL,
		Redis:     rc,
		NATS:      nc,
		JetStream: js,
	}, nil
}

// GetTestStream creates a fresh JetStream stream bound to subject for a test
func GetTestStream(js nats.JetStreamContext, testName, subject string) (string, error) {
	name := strings.NewReplacer("/", "_", ".", "_", " ", "_").Replace("test_" + testName)

	// NATS has limits on stream name length
	if len(name) > 64 {
		name = name[:64]
	}

	if err := js.DeleteStream(name); err != nil && err != nats.ErrStreamNotFound {
		return "", err
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{subject},
		Storage:  nats.MemoryStorage,
	})
	if err != nil {
		return "", err
	}
	return name, nil
}
