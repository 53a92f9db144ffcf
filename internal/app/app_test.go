package app

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/config"
	"github.com/JakeFAU/crawl-broker/internal/publisher/rabbitmq"
	"github.com/JakeFAU/crawl-broker/internal/storage"
	"github.com/JakeFAU/crawl-broker/internal/storage/local"
	"github.com/JakeFAU/crawl-broker/internal/storage/memory"
	"github.com/JakeFAU/crawl-broker/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.ProbeTimeoutSeconds = 1
	cfg.Crawl.OutputRoot = filepath.Join(t.TempDir(), "output")
	cfg.Crawl.LogRoot = filepath.Join(t.TempDir(), "logs")
	return cfg
}

func TestNewDefaultsAreOffline(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.IsType(t, store.NopLedger{}, a.Ledger())
	assert.IsType(t, storage.NoOpArchive{}, a.archive)
	assert.Equal(t, cfg.Endpoint(), a.Sessions().Endpoint())
	assert.NotNil(t, a.Engine())

	publisher, err := a.resultPublisher(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &rabbitmq.Publisher{}, publisher)
	assert.Nil(t, a.producer, "no broker session before the first result")

	w, err := a.Worker(context.Background(), func(int) {})
	require.NoError(t, err)
	assert.NotNil(t, w)
}

func TestNewLocalArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Finalizer.Archive = config.ArchiveLocal
	cfg.Finalizer.ArchiveDir = filepath.Join(t.TempDir(), "archive")

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.IsType(t, &local.BlobStore{}, a.archive)
	fin, err := a.Finalizer(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, fin)
}

func TestNewMemoryArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Finalizer.Archive = config.ArchiveMemory

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.IsType(t, &memory.Archive{}, a.archive)
}

func TestNewBadLedgerDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.DSN = "::not a dsn::"

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "run ledger"))
}

func TestReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	t.Cleanup(func() { _ = ln.Close() })

	cfg := testConfig(t)
	cfg.Broker.Port = port
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Ready(context.Background()))

	require.NoError(t, ln.Close())
	require.Eventually(t, func() bool {
		return a.Ready(context.Background()) != nil
	}, 2*time.Second, 50*time.Millisecond)
}

func TestSubmitWithCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Broker.Port = 1
	cfg.Broker.ProbeAttempts = 1
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Submit(ctx, []byte(`{"name":"x"}`))
	require.ErrorIs(t, err, context.Canceled)
}
