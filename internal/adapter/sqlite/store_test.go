package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "crime.db"), slog.Default())
}

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestReadCombined_MissingFileYieldsEmptyTable(t *testing.T) {
	table, err := newTestStore(t).ReadCombined(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
}

func TestWriteThenRead_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	vintage := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	table := domain.NewCombinedTable()
	table.Put(domain.CombinedRow{
		Borough: "Camden", Major: "Burglary", Minor: "Residential",
		Date: month(2024, time.January), Count: 12, Vintage: vintage,
	})
	table.Put(domain.CombinedRow{
		Borough: "Brent", Major: "Robbery", Minor: "Personal Robbery",
		Date: month(2024, time.February), Count: 3, Vintage: vintage,
	})

	require.NoError(t, store.Write(ctx, table, nil))

	got, err := store.ReadCombined(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	row, ok := got.Get(domain.Key{
		Borough: "Camden", Major: "Burglary", Minor: "Residential", Date: month(2024, time.January),
	})
	require.True(t, ok)
	assert.Equal(t, 12, row.Count)
	assert.True(t, row.Vintage.Equal(vintage))
}

func TestWrite_ReplacesPreviousSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := domain.NewCombinedTable()
	first.Put(domain.CombinedRow{
		Borough: "Camden", Major: "Burglary", Minor: "Residential",
		Date: month(2024, time.January), Count: 5, Vintage: month(2024, time.January),
	})
	require.NoError(t, store.Write(ctx, first, nil))

	second := domain.NewCombinedTable()
	second.Put(domain.CombinedRow{
		Borough: "Camden", Major: "Burglary", Minor: "Residential",
		Date: month(2024, time.January), Count: 7, Vintage: month(2024, time.February),
	})
	require.NoError(t, store.Write(ctx, second, nil))

	got, err := store.ReadCombined(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	row, _ := got.Get(domain.Key{
		Borough: "Camden", Major: "Burglary", Minor: "Residential", Date: month(2024, time.January),
	})
	assert.Equal(t, 7, row.Count)
}

func TestWrite_AuditTables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	audit := map[domain.SourceKind][]domain.CanonicalRecord{
		domain.KindWard: {
			{Borough: "Camden", Geography: "Holborn", Major: "Robbery", Minor: "Personal Robbery",
				Date: month(2024, time.January), Count: 3},
			{Borough: "Camden", Geography: "Gospel Oak", Major: "Robbery", Minor: "Personal Robbery",
				Date: month(2024, time.January), Count: 1},
		},
		domain.KindBorough: {
			{Borough: "Camden", Geography: "Camden", Major: "Robbery", Minor: "Personal Robbery",
				Date: month(2024, time.January), Count: 4},
		},
	}
	require.NoError(t, store.Write(ctx, domain.NewCombinedTable(), audit))

	db, err := sql.Open("sqlite", store.Path())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var wardRows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM crime_ward`).Scan(&wardRows))
	assert.Equal(t, 2, wardRows)

	var geography string
	require.NoError(t, db.QueryRow(
		`SELECT geography FROM crime_borough_historical`).Scan(&geography))
	assert.Equal(t, "Camden", geography)

	var lsoaRows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM crime_lsoa`).Scan(&lsoaRows))
	assert.Equal(t, 0, lsoaRows)
}

func TestLock_SecondLockerBlocksUntilRelease(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Lock(ctx))

	other := New(store.Path(), slog.Default())
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	err := other.Lock(shortCtx)
	var storeErr *domain.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "lock", storeErr.Op)

	require.NoError(t, store.Unlock())
	require.NoError(t, other.Lock(ctx))
	require.NoError(t, other.Unlock())
}
