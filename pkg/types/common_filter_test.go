package types

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type row struct {
	ID     int
	Status string
	Amount int
}

func dryRun(t *testing.T, expr clause.Expression) string {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{DryRun: true})
	require.NoError(t, err)
	stmt := db.Model(&row{}).Where(clause.Where{Exprs: []clause.Expression{expr}}).Find(&[]row{}).Statement
	return stmt.SQL.String()
}

func TestFiltersAnd_Build(t *testing.T) {
	sql := dryRun(t, FiltersAnd{
		{Field: "status", Operator: CommonFilterOperatorIn, Values: []any{"pending", "failed"}},
		{Field: "amount", Operator: CommonFilterOperatorRange, Values: []any{100, 200}},
	})
	require.Contains(t, sql, "`status` IN (?,?)")
	require.Contains(t, sql, "`amount` >= ? AND `amount` <= ?")
	require.Contains(t, sql, ") AND (")
}

func TestCommonFilter_DateRange(t *testing.T) {
	sql := dryRun(t, FiltersAnd{{Field: "created_at", Operator: CommonFilterOperatorDateRange, Values: []any{"2026-01-01", "2026-01-31"}}})
	require.Contains(t, sql, "`created_at` >= ? AND `created_at` < ?")

	sql = dryRun(t, FiltersAnd{{Field: "created_at", Operator: CommonFilterOperatorDateRange, Values: []any{"January"}}})
	require.Contains(t, sql, "1=0")
}

func TestCommonFilter_Validate(t *testing.T) {
	f := &CommonFilter{Field: "password_hash", Operator: CommonFilterOperatorEq, Values: []any{"x"}}
	require.Error(t, f.Validate([]string{"status"}))
	f.Field = "status"
	require.NoError(t, f.Validate([]string{"status"}))
}
