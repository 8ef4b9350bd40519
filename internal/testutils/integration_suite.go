package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// Component selects a backing container for the suite.
type Component int

const (
	Postgres Component = iota
	Weaviate
	NSQ
	Redis
)

type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	DSN      string
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer
	NSQAddr  string
	Redis    *redis.Client

	pgHost     string
	pgPort     int
	containers []testcontainers.Container
}

// NewIntegrationSuite skips the test under -short since containers need a docker daemon.
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	return &IntegrationSuite{T: t}
}

// Setup starts the given components, or all of them when none are named.
func (s *IntegrationSuite) Setup(components ...Component) {
	if len(components) == 0 {
		components = []Component{Postgres, Weaviate, NSQ, Redis}
	}
	for _, c := range components {
		switch c {
		case Postgres:
			s.setupPostgres()
		case Weaviate:
			s.setupWeaviate()
		case NSQ:
			s.setupNSQ()
		case Redis:
			s.setupRedis()
		}
	}
}

func (s *IntegrationSuite) setupPostgres() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("studyrag_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.containers = append(s.containers, pgContainer)

	s.DSN, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.pgHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	mapped, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(s.T, err)
	s.pgPort = mapped.Int()

	s.DB, err = sql.Open("postgres", s.DSN)
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)
	migrationPath := fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))

	m, err := migrate.New(migrationPath, s.DSN)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

// PostgresEndpoint returns the host and port of the Postgres container.
func (s *IntegrationSuite) PostgresEndpoint() (string, int) {
	return s.pgHost, s.pgPort
}

func (s *IntegrationSuite) setupWeaviate() {
	ctx := context.Background()
	c := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.25.4",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	})

	var err error
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.endpoint(ctx, c, "8080"), Scheme: "http"})
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) setupNSQ() {
	ctx := context.Background()
	c := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	})

	s.NSQAddr = s.endpoint(ctx, c, "4150")
	var err error
	s.NSQ, err = nsq.NewProducer(s.NSQAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) setupRedis() {
	ctx := context.Background()
	c := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	})
	s.Redis = redis.NewClient(&redis.Options{Addr: s.endpoint(ctx, c, "6379")})
}

func (s *IntegrationSuite) start(ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.containers = append(s.containers, c)
	return c
}

// endpoint returns host:port for a container's TCP port given as a bare number.
func (s *IntegrationSuite) endpoint(ctx context.Context, c testcontainers.Container, port string) string {
	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port+"/tcp"))
	require.NoError(s.T, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	for _, c := range s.containers {
		c.Terminate(ctx)
	}
}
