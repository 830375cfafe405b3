package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))
	s, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, s)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns equal snapshot.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()
	file := filepath.Join(t.TempDir(), "state.json")
	repo := NewFileRepository(file)

	ts := time.Now().UTC().Truncate(time.Second)
	want := &safety.ShipSnapshot{
		Status:        safety.ShipEmergency,
		UpdatedAt:     ts,
		LastEventID:   "3f1c1f9e-6c3b-4f5e-9a7e-0d2b8c4f1a11",
		LastEventKind: "fire_alarm",
		LastOperator: &safety.Operator{
			Hostname: "Oleg Shokin",
			Username: "o.shokin",
		},
		LastTests: map[safety.SystemType]time.Time{
			safety.SystemPAGA: ts.Add(-time.Hour),
		},
	}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.Status, got.Status)
	require.Equal(t, want.UpdatedAt.Unix(), got.UpdatedAt.Unix())
	require.Equal(t, want.LastEventID, got.LastEventID)
	require.Equal(t, want.LastEventKind, got.LastEventKind)
	require.Equal(t, want.LastOperator, got.LastOperator)
	require.True(t, want.LastTests[safety.SystemPAGA].Equal(got.LastTests[safety.SystemPAGA]))

	_, err = os.Stat(file)
	require.NoError(t, err)

	_, err = os.Stat(file + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFileRepository_Corrupt verifies undecodable files are reported, not ignored.
func TestFileRepository_Corrupt(t *testing.T) {
	t.Parallel()
	file := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o600))

	_, err := NewFileRepository(file).Load(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}
