package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-feed/internal/domain"
	"market-feed/pkg/database"
)

type storeFactory func(t *testing.T, opts ...Option) ListingRepository

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"file": func(t *testing.T, opts ...Option) ListingRepository {
			t.Helper()
			repo, err := NewFileListingRepository(filepath.Join(t.TempDir(), "listings.json"), opts...)
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
		"sqlite": func(t *testing.T, opts ...Option) ListingRepository {
			t.Helper()
			db, err := database.NewDatabase("sqlite3", filepath.Join(t.TempDir(), "listings.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			require.NoError(t, Migrate(context.Background(), db))

			repo := NewSQLListingRepository(db, opts...)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
}

func strPtr(s string) *string { return &s }

func newCandidate(title string) domain.Candidate {
	return domain.Candidate{
		Title:       title,
		Description: "Hand made",
		Price:       domain.Price(4990),
		Category:    strPtr("home"),
		Images:      []domain.Media{{URL: "https://cdn.example.com/a.jpg", MimeType: "image/jpeg", Size: 1024}},
		Attributes: domain.Attributes{
			Material: strPtr("oak"),
			IsCustom: true,
		},
	}
}

// steppingClock returns start, start+step, start+2*step, ...
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

func TestListingRepository_Contract(t *testing.T) {
	for name, newStore := range backends() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			t.Run("assigns id and commit time", func(t *testing.T) {
				now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
				repo := newStore(t, WithClock(func() time.Time { return now }))

				l, err := repo.Append(context.Background(), newCandidate("Lamp"))
				require.NoError(t, err)

				assert.NotEmpty(t, l.ID)
				assert.Equal(t, now.Truncate(time.Microsecond), l.CreatedAt)
				assert.Equal(t, "Lamp", l.Title)
				assert.Equal(t, domain.Price(4990), l.Price)
			})

			t.Run("round trips every field", func(t *testing.T) {
				repo := newStore(t)
				ctx := context.Background()

				written, err := repo.Append(ctx, newCandidate("Lamp"))
				require.NoError(t, err)

				got, err := repo.Recent(ctx, 10)
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, written, got[0])
			})

			t.Run("keeps absent optionals absent", func(t *testing.T) {
				repo := newStore(t)
				ctx := context.Background()

				_, err := repo.Append(ctx, domain.Candidate{Title: "Bare", Description: "d", Price: 0})
				require.NoError(t, err)

				got, err := repo.Recent(ctx, 1)
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Nil(t, got[0].Category)
				assert.Nil(t, got[0].ImageURL)
				assert.Nil(t, got[0].Attributes.Material)
				assert.NotNil(t, got[0].Images)
				assert.Empty(t, got[0].Images)
			})

			t.Run("newest first", func(t *testing.T) {
				start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
				repo := newStore(t, WithClock(steppingClock(start, time.Second)))
				ctx := context.Background()

				for i := 0; i < 5; i++ {
					_, err := repo.Append(ctx, newCandidate(fmt.Sprintf("item-%d", i)))
					require.NoError(t, err)
				}

				got, err := repo.Recent(ctx, 3)
				require.NoError(t, err)
				require.Len(t, got, 3)
				assert.Equal(t, "item-4", got[0].Title)
				assert.Equal(t, "item-3", got[1].Title)
				assert.Equal(t, "item-2", got[2].Title)
			})

			t.Run("equal timestamps keep commit order", func(t *testing.T) {
				fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
				repo := newStore(t, WithClock(func() time.Time { return fixed }))
				ctx := context.Background()

				for i := 0; i < 4; i++ {
					_, err := repo.Append(ctx, newCandidate(fmt.Sprintf("item-%d", i)))
					require.NoError(t, err)
				}

				got, err := repo.Recent(ctx, 10)
				require.NoError(t, err)
				require.Len(t, got, 4)
				for i, l := range got {
					assert.Equal(t, fmt.Sprintf("item-%d", 3-i), l.Title)
				}
			})

			t.Run("commit time never goes backwards", func(t *testing.T) {
				start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
				repo := newStore(t, WithClock(steppingClock(start, -time.Minute)))
				ctx := context.Background()

				var prev time.Time
				for i := 0; i < 5; i++ {
					l, err := repo.Append(ctx, newCandidate(fmt.Sprintf("item-%d", i)))
					require.NoError(t, err)
					assert.False(t, l.CreatedAt.Before(prev), "commit %d went backwards", i)
					prev = l.CreatedAt
				}

				got, err := repo.Recent(ctx, 10)
				require.NoError(t, err)
				assert.Equal(t, "item-4", got[0].Title)
			})

			t.Run("limits", func(t *testing.T) {
				repo := newStore(t)
				ctx := context.Background()

				got, err := repo.Recent(ctx, 60)
				require.NoError(t, err)
				assert.NotNil(t, got)
				assert.Empty(t, got)

				for i := 0; i < 3; i++ {
					_, err := repo.Append(ctx, newCandidate(fmt.Sprintf("item-%d", i)))
					require.NoError(t, err)
				}

				got, err = repo.Recent(ctx, 60)
				require.NoError(t, err)
				assert.Len(t, got, 3)

				got, err = repo.Recent(ctx, 0)
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("cancelled before commit leaves no record", func(t *testing.T) {
				repo := newStore(t)
				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				_, err := repo.Append(ctx, newCandidate("Lamp"))
				assert.ErrorIs(t, err, context.Canceled)

				got, err := repo.Recent(context.Background(), 10)
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("returned listings are copies", func(t *testing.T) {
				repo := newStore(t)
				ctx := context.Background()

				written, err := repo.Append(ctx, newCandidate("Lamp"))
				require.NoError(t, err)
				written.Title = "changed"
				written.Images[0].URL = "changed"

				got, err := repo.Recent(ctx, 1)
				require.NoError(t, err)
				got[0].Attributes.IsCustom = false

				again, err := repo.Recent(ctx, 1)
				require.NoError(t, err)
				assert.Equal(t, "Lamp", again[0].Title)
				assert.Equal(t, "https://cdn.example.com/a.jpg", again[0].Images[0].URL)
				assert.True(t, again[0].Attributes.IsCustom)
			})

			t.Run("append after close", func(t *testing.T) {
				repo := newStore(t)
				require.NoError(t, repo.Close())

				_, err := repo.Append(context.Background(), newCandidate("Lamp"))
				assert.ErrorIs(t, err, ErrClosed)
			})

			for _, n := range []int{2, 10, 100} {
				n := n
				t.Run(fmt.Sprintf("%d concurrent appends", n), func(t *testing.T) {
					repo := newStore(t)
					ctx := context.Background()

					var wg sync.WaitGroup
					errs := make(chan error, n)
					for i := 0; i < n; i++ {
						wg.Add(1)
						go func(i int) {
							defer wg.Done()
							_, err := repo.Append(ctx, newCandidate(fmt.Sprintf("item-%d", i)))
							errs <- err
						}(i)
					}
					wg.Wait()
					close(errs)
					for err := range errs {
						require.NoError(t, err)
					}

					got, err := repo.Recent(ctx, n+10)
					require.NoError(t, err)
					require.Len(t, got, n)

					ids := make(map[string]struct{}, n)
					titles := make(map[string]struct{}, n)
					for i, l := range got {
						ids[l.ID] = struct{}{}
						titles[l.Title] = struct{}{}
						if i > 0 {
							assert.False(t, l.CreatedAt.After(got[i-1].CreatedAt))
						}
					}
					assert.Len(t, ids, n)
					assert.Len(t, titles, n)
				})
			}
		})
	}
}
