package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jan20 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	feb20 = time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)

	vintageOld = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	vintageNew = time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
)

func rec(borough, major, minor string, date time.Time, count int) CanonicalRecord {
	return CanonicalRecord{
		Borough: borough, Geography: borough,
		Major: major, Minor: minor,
		Date: date, Count: count,
	}
}

func TestRollUp_SumsWardRowsPerBoroughKey(t *testing.T) {
	wards := []CanonicalRecord{
		{Borough: "Camden", Geography: "Holborn", Major: "Burglary", Minor: "Residential", Date: jan20, Count: 3},
		{Borough: "Camden", Geography: "Gospel Oak", Major: "Burglary", Minor: "Residential", Date: jan20, Count: 4},
		{Borough: "Camden", Geography: "Holborn", Major: "Burglary", Minor: "Residential", Date: feb20, Count: 1},
		{Borough: "Brent", Geography: "Wembley Central", Major: "Burglary", Minor: "Residential", Date: jan20, Count: 2},
	}

	rolled := RollUp(wards)

	want := []CanonicalRecord{
		rec("Brent", "Burglary", "Residential", jan20, 2),
		rec("Camden", "Burglary", "Residential", jan20, 7),
		rec("Camden", "Burglary", "Residential", feb20, 1),
	}
	if diff := cmp.Diff(want, rolled); diff != "" {
		t.Fatalf("roll-up mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_InsertsNewKeys(t *testing.T) {
	table := NewCombinedTable()

	stats := Merge(table, []CanonicalRecord{
		rec("Camden", "Burglary", "Residential", jan20, 5),
		rec("Camden", "Burglary", "Residential", feb20, 7),
	}, vintageOld)

	assert.Equal(t, MergeStats{Inserted: 2}, stats)
	assert.Equal(t, 2, table.Len())

	row, ok := table.Get(Key{Borough: "Camden", Major: "Burglary", Minor: "Residential", Date: jan20})
	require.True(t, ok)
	assert.Equal(t, 5, row.Count)
	assert.Equal(t, vintageOld, row.Vintage)
}

func TestMerge_Idempotent(t *testing.T) {
	batch := []CanonicalRecord{
		rec("Camden", "Burglary", "Residential", jan20, 5),
		rec("Hackney", "Theft", "Other Theft", jan20, 11),
	}

	table := NewCombinedTable()
	Merge(table, batch, vintageOld)
	first := table.Rows()

	stats := Merge(table, batch, vintageOld)
	assert.Equal(t, MergeStats{Unchanged: 2}, stats)

	if diff := cmp.Diff(first, table.Rows()); diff != "" {
		t.Fatalf("second merge changed the table (-first +second):\n%s", diff)
	}
}

func TestMerge_ReplacesOnNewerVintage(t *testing.T) {
	table := NewCombinedTable()
	Merge(table, []CanonicalRecord{rec("Camden", "Burglary", "Residential", jan20, 5)}, vintageOld)

	stats := Merge(table, []CanonicalRecord{rec("Camden", "Burglary", "Residential", jan20, 6)}, vintageNew)
	assert.Equal(t, MergeStats{Replaced: 1}, stats)

	row, _ := table.Get(Key{Borough: "Camden", Major: "Burglary", Minor: "Residential", Date: jan20})
	assert.Equal(t, 6, row.Count)
	assert.Equal(t, vintageNew, row.Vintage)
	assert.Equal(t, 1, table.Len())
}

func TestMerge_OlderOrEqualVintageNeverChangesCount(t *testing.T) {
	table := NewCombinedTable()
	Merge(table, []CanonicalRecord{rec("Camden", "Burglary", "Residential", jan20, 5)}, vintageNew)

	t.Run("older vintage ignored", func(t *testing.T) {
		stats := Merge(table, []CanonicalRecord{rec("Camden", "Burglary", "Residential", jan20, 9)}, vintageOld)
		assert.Equal(t, MergeStats{Conflicts: 1}, stats)

		row, _ := table.Get(Key{Borough: "Camden", Major: "Burglary", Minor: "Residential", Date: jan20})
		assert.Equal(t, 5, row.Count)
	})

	t.Run("equal vintage with different count flagged", func(t *testing.T) {
		stats := Merge(table, []CanonicalRecord{rec("Camden", "Burglary", "Residential", jan20, 9)}, vintageNew)
		assert.Equal(t, MergeStats{Conflicts: 1}, stats)

		row, _ := table.Get(Key{Borough: "Camden", Major: "Burglary", Minor: "Residential", Date: jan20})
		assert.Equal(t, 5, row.Count)
		assert.Equal(t, vintageNew, row.Vintage)
	})
}

func TestMerge_RollsUpBeforeMerging(t *testing.T) {
	table := NewCombinedTable()

	wards := []CanonicalRecord{
		{Borough: "Camden", Geography: "Holborn", Major: "Burglary", Minor: "Residential", Date: jan20, Count: 3},
		{Borough: "Camden", Geography: "Gospel Oak", Major: "Burglary", Minor: "Residential", Date: jan20, Count: 4},
	}
	stats := Merge(table, wards, vintageOld)

	assert.Equal(t, MergeStats{Inserted: 1}, stats)
	row, ok := table.Get(Key{Borough: "Camden", Major: "Burglary", Minor: "Residential", Date: jan20})
	require.True(t, ok)
	assert.Equal(t, 7, row.Count)
}

func TestCombinedTable_RowsSorted(t *testing.T) {
	table := NewCombinedTable()
	table.Put(CombinedRow{Borough: "Camden", Major: "Theft", Minor: "Other Theft", Date: feb20, Count: 1})
	table.Put(CombinedRow{Borough: "Camden", Major: "Theft", Minor: "Other Theft", Date: jan20, Count: 2})
	table.Put(CombinedRow{Borough: "Brent", Major: "Theft", Minor: "Other Theft", Date: feb20, Count: 3})

	rows := table.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "Brent", rows[0].Borough)
	assert.Equal(t, jan20, rows[1].Date)
	assert.Equal(t, feb20, rows[2].Date)
}
