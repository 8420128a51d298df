package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-feed/internal/domain"
)

func TestFileListingRepository_CreatesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "listings.json")

	repo, err := NewFileListingRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestFileListingRepository_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	ctx := context.Background()

	repo, err := NewFileListingRepository(path)
	require.NoError(t, err)
	first, err := repo.Append(ctx, newCandidate("first"))
	require.NoError(t, err)
	second, err := repo.Append(ctx, newCandidate("second"))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened, err := NewFileListingRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second, got[0])
	assert.Equal(t, first, got[1])
}

func TestFileListingRepository_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")

	repo, err := NewFileListingRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.Append(context.Background(), domain.Candidate{Title: "Lamp", Description: "Warm", Price: 4990})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)

	assert.Equal(t, "Lamp", records[0]["title"])
	assert.Equal(t, 49.9, records[0]["price"])
	assert.Nil(t, records[0]["category"])
	assert.Contains(t, records[0], "attributes")
	assert.Equal(t, []any{}, records[0]["images"])
}

func TestFileListingRepository_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "an array"`), 0o644))

	_, err := NewFileListingRepository(path)
	assert.Error(t, err)
}

func TestFileListingRepository_RejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	body := `[
		{"id": "a", "title": "x", "description": "y", "price": 1, "images": [], "attributes": {}, "createdAt": "2026-03-01T12:00:00Z"},
		{"id": "a", "title": "x", "description": "y", "price": 1, "images": [], "attributes": {}, "createdAt": "2026-03-01T12:00:01Z"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := NewFileListingRepository(path)
	assert.ErrorContains(t, err, "duplicate id")
}

func TestFileListingRepository_RegeneratesTakenID(t *testing.T) {
	ids := []string{"a", "a", "b"}
	next := func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	repo, err := NewFileListingRepository(filepath.Join(t.TempDir(), "listings.json"), WithIDGenerator(next))
	require.NoError(t, err)
	defer repo.Close()

	first, err := repo.Append(context.Background(), newCandidate("first"))
	require.NoError(t, err)
	second, err := repo.Append(context.Background(), newCandidate("second"))
	require.NoError(t, err)

	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)
}

func TestFileListingRepository_WriteFailureKeepsPreviousState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listings.json")
	ctx := context.Background()

	repo, err := NewFileListingRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.Append(ctx, newCandidate("kept"))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))

	_, err = repo.Append(ctx, newCandidate("lost"))
	require.Error(t, err)

	got, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Title)
}

func TestFileListingRepository_FileIsWorldReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listings.json")

	repo, err := NewFileListingRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.Append(context.Background(), newCandidate("Lamp"))
	require.NoError(t, err)

	// Same permission a plain os.WriteFile gets under the current umask.
	reference := filepath.Join(dir, "reference.json")
	require.NoError(t, os.WriteFile(reference, []byte("[]"), 0o644))
	want, err := os.Stat(reference)
	require.NoError(t, err)

	got, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, want.Mode().Perm(), got.Mode().Perm())
}

func TestFileListingRepository_DirectorySyncFailureStillCommits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	ctx := context.Background()

	repo, err := NewFileListingRepository(path)
	require.NoError(t, err)

	original := syncDir
	syncDir = func(string) error { return errors.New("sync: input/output error") }
	t.Cleanup(func() { syncDir = original })

	l, err := repo.Append(ctx, newCandidate("Lamp"))
	require.NoError(t, err)

	got, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, l.ID, got[0].ID)
	require.NoError(t, repo.Close())

	syncDir = original
	reopened, err := NewFileListingRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err = reopened.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, l.ID, got[0].ID)
}
