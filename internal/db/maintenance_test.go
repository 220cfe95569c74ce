package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/keeperlabs/depositwatch/internal/common"
	"github.com/keeperlabs/depositwatch/internal/logger"
	"github.com/keeperlabs/depositwatch/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestNewMaintenanceCoordinator_NilConfig(t *testing.T) {
	t.Parallel()

	m := NewMaintenanceCoordinator("", nil, nil, logger.NewNopLogger())
	require.IsType(t, &NoOpMaintenance{}, m)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.RunMaintenance(context.Background()))
	unlock := m.AcquireOperationLock()
	unlock()
	require.NoError(t, m.Stop())
}

func TestMaintenanceCoordinator_RunMaintenance(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "maint.db")

	db, err := NewSQLiteDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE filler (id INTEGER PRIMARY KEY, payload BLOB)")
	require.NoError(t, err)

	cfg := &config.MaintenanceConfig{
		Enabled:           true,
		CheckInterval:     common.NewDuration(time.Hour),
		WALCheckpointMode: "TRUNCATE",
	}

	m := NewMaintenanceCoordinator(dbPath, db, cfg, logger.NewNopLogger())

	require.NoError(t, m.RunMaintenance(context.Background()))

	metrics := m.GetMetrics()
	require.Equal(t, uint64(1), metrics.MaintenanceCount)
	require.NoError(t, metrics.LastMaintenanceError)
	require.False(t, metrics.LastMaintenanceTime.IsZero())
}

func TestMaintenanceCoordinator_StartStop(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "worker.db")

	db, err := NewSQLiteDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	cfg := &config.MaintenanceConfig{
		Enabled:           true,
		CheckInterval:     common.NewDuration(time.Hour),
		WALCheckpointMode: "PASSIVE",
	}

	m := NewMaintenanceCoordinator(dbPath, db, cfg, logger.NewNopLogger())

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
}

func TestMaintenanceCoordinator_OperationLockBlocksMaintenance(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "lock.db")

	db, err := NewSQLiteDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	cfg := &config.MaintenanceConfig{
		Enabled:           true,
		CheckInterval:     common.NewDuration(time.Hour),
		WALCheckpointMode: "PASSIVE",
	}

	m := NewMaintenanceCoordinator(dbPath, db, cfg, logger.NewNopLogger())

	unlock := m.AcquireOperationLock()

	done := make(chan error, 1)
	go func() {
		done <- m.RunMaintenance(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("maintenance ran while an operation held the lock")
	case <-time.After(100 * time.Millisecond):
	}

	unlock()
	require.NoError(t, <-done)
}
