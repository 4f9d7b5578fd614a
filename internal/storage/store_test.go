package storage

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/odesens/internal/ode"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun() *Run {
	return &Run{
		Model:     "lotka_volterra",
		Algorithm: "interpolating_adjoint",
		AbsTol:    1e-10,
		RelTol:    1e-10,
		Elapsed:   42 * time.Millisecond,
		Loss:      0.125,
		LossKnown: true,
		DU0:       ode.State{0.5, -1.25},
		DP:        ode.Params{1.5, -0.5, 0.25},
		Warnings:  []string{"backsolve unstable"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	run := sampleRun()
	id, err := s.Save(run)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Load(id)
	require.NoError(t, err)

	assert.Equal(t, run.Model, got.Model)
	assert.Equal(t, run.Algorithm, got.Algorithm)
	assert.Equal(t, run.AbsTol, got.AbsTol)
	assert.Equal(t, run.DU0, got.DU0)
	assert.Equal(t, run.DP, got.DP)
	assert.Equal(t, run.Warnings, got.Warnings)
	assert.True(t, got.LossKnown)
	assert.Equal(t, run.Loss, got.Loss)
	assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestUnknownLossStaysUnknown(t *testing.T) {
	s := openTestStore(t)

	run := sampleRun()
	run.Loss, run.LossKnown = 0, false
	id, err := s.Save(run)
	require.NoError(t, err)

	got, err := s.Load(id)
	require.NoError(t, err)
	assert.False(t, got.LossKnown)
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)

	old := sampleRun()
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	oldID, err := s.Save(old)
	require.NoError(t, err)

	newID, err := s.Save(sampleRun())
	require.NoError(t, err)

	runs, err := s.List()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newID, runs[0].ID)
	assert.Equal(t, oldID, runs[1].ID)
}

func TestLoadAndDeleteMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load("nope")
	assert.ErrorIs(t, err, ode.ErrNotFound)

	assert.ErrorIs(t, s.Delete("nope"), ode.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Save(sampleRun())
	require.NoError(t, err)
	require.NoError(t, s.Delete(id))

	_, err = s.Load(id)
	assert.ErrorIs(t, err, ode.ErrNotFound)
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	run := sampleRun()
	run.ID = "abc"
	require.NoError(t, ExportJSON(&buf, run))

	out := buf.String()
	assert.Contains(t, out, `"id": "abc"`)
	assert.Contains(t, out, `"loss": 0.125`)
	assert.Contains(t, out, `"dp"`)
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, sampleRun()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1+2+3)
	assert.Equal(t, "kind,index,value", lines[0])
	assert.Equal(t, "du0,0,0.5", lines[1])
	assert.Equal(t, "dp,2,0.25", lines[5])
}
