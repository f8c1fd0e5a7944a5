package schemaService

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"

	"github.com/bulletin/board/monitoring"
)

func newTestEvolver(maxNew, max int) *Evolver {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return NewEvolver(maxNew, max, log.NewEntry(logger))
}

func TestPlanInfersTypeAndConvertsValue(t *testing.T) {
	evolver := newTestEvolver(10, 100)

	plan, err := evolver.Plan(map[string]interface{}{"rating": "5"}, map[string]ColumnType{})
	assert.NilError(t, err)
	assert.DeepEqual(t, plan.Columns, []Column{{Name: "rating", Type: TypeBigInt}})
	assert.Equal(t, plan.Values["rating"], int64(5))
}

func TestPlanDropsRejectedNames(t *testing.T) {
	evolver := newTestEvolver(10, 100)

	plan, err := evolver.Plan(map[string]interface{}{
		"; DROP TABLE posts;": "x",
		"1abc":                "x",
		"Title":               "shadow",
		"created_at":          "2020",
		"mood":                "happy",
	}, map[string]ColumnType{})
	assert.NilError(t, err)
	assert.DeepEqual(t, plan.Columns, []Column{{Name: "mood", Type: TypeText}})
	assert.DeepEqual(t, plan.Names(), []string{"mood"})
}

func TestPlanUsesKnownColumnType(t *testing.T) {
	evolver := newTestEvolver(10, 100)

	// "7" would be inferred as BIGINT, but the existing column is TEXT
	plan, err := evolver.Plan(map[string]interface{}{"code": "7"}, map[string]ColumnType{"code": TypeText})
	assert.NilError(t, err)
	assert.Equal(t, len(plan.Columns), 0)
	assert.Equal(t, plan.Values["code"], "7")

	_, err = evolver.Plan(map[string]interface{}{"rating": "five"}, map[string]ColumnType{"rating": TypeBigInt})
	var conversionError *ConversionError
	assert.Assert(t, errors.As(err, &conversionError))
}

func TestPlanRejectsTooManyNewColumns(t *testing.T) {
	evolver := newTestEvolver(10, 100)

	candidates := make(map[string]interface{})
	for i, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"} {
		candidates[name] = fmt.Sprint(i + 1)
	}

	plan, err := evolver.Plan(candidates, map[string]ColumnType{})
	assert.Assert(t, plan == nil)
	assert.Assert(t, errors.Is(err, ErrLimitExceeded))

	var limitError *LimitError
	assert.Assert(t, errors.As(err, &limitError))
	assert.Equal(t, limitError.Requested, 11)
	assert.Equal(t, limitError.Limit, 10)
	assert.Assert(t, !limitError.Total)

	// exactly at the cap is fine
	delete(candidates, "k")
	plan, err = evolver.Plan(candidates, map[string]ColumnType{})
	assert.NilError(t, err)
	assert.Equal(t, len(plan.Columns), 10)
}

func TestPlanKnownColumnsDoNotCountTowardsCap(t *testing.T) {
	evolver := newTestEvolver(1, 100)

	plan, err := evolver.Plan(
		map[string]interface{}{"a": "1", "b": "2", "c": "3"},
		map[string]ColumnType{"a": TypeBigInt, "b": TypeBigInt},
	)
	assert.NilError(t, err)
	assert.DeepEqual(t, plan.Columns, []Column{{Name: "c", Type: TypeBigInt}})
	assert.Equal(t, len(plan.Values), 3)
}

func TestPlanRejectsTotalCeiling(t *testing.T) {
	evolver := newTestEvolver(10, 3)
	known := map[string]ColumnType{"a": TypeText, "b": TypeText}

	_, err := evolver.Plan(map[string]interface{}{"c": "x", "d": "y"}, known)
	var limitError *LimitError
	assert.Assert(t, errors.As(err, &limitError))
	assert.Assert(t, limitError.Total)
	assert.Equal(t, limitError.Requested, 4)

	// writing only existing columns never trips the ceiling
	_, err = newTestEvolver(10, 1).Plan(map[string]interface{}{"a": "x"}, known)
	assert.NilError(t, err)
}

func TestAddColumnStatementQuotesName(t *testing.T) {
	assert.Equal(t, AddColumnStatement(Column{Name: "Rating", Type: TypeBigInt}),
		`ALTER TABLE posts ADD COLUMN IF NOT EXISTS "Rating" BIGINT`)
}

func TestApplyAndAuditRunInsideTransaction(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	assert.NilError(t, err)
	defer db.Close()

	plan := &Plan{
		Columns: []Column{{Name: "mood", Type: TypeText}, {Name: "rating", Type: TypeBigInt}},
		Values:  map[string]interface{}{"mood": "ok", "rating": int64(5)},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`ALTER TABLE posts ADD COLUMN IF NOT EXISTS "mood" TEXT`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE posts ADD COLUMN IF NOT EXISTS "rating" BIGINT`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_evolutions (column_name, column_type, post_id) values ($1, $2, $3)").
		WithArgs("mood", "TEXT", int64(4)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into schema_evolutions (column_name, column_type, post_id) values ($1, $2, $3)").
		WithArgs("rating", "BIGINT", int64(4)).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := sqlx.NewDb(db, "postgres").BeginTxx(ctx, nil)
	assert.NilError(t, err)

	evolver := newTestEvolver(10, 100)
	assert.NilError(t, evolver.Apply(ctx, tx, plan))
	assert.NilError(t, evolver.Audit(ctx, tx, 4, plan))
	assert.NilError(t, tx.Commit())
	assert.NilError(t, mock.ExpectationsWereMet())
}

func TestApplyStopsOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	assert.NilError(t, err)
	defer db.Close()

	plan := &Plan{Columns: []Column{{Name: "a", Type: TypeText}, {Name: "b", Type: TypeText}}}

	mock.ExpectBegin()
	mock.ExpectExec(`ALTER TABLE posts ADD COLUMN IF NOT EXISTS "a" TEXT`).WillReturnError(fmt.Errorf("boom"))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := sqlx.NewDb(db, "postgres").BeginTxx(ctx, nil)
	assert.NilError(t, err)

	err = newTestEvolver(10, 100).Apply(ctx, tx, plan)
	assert.ErrorContains(t, err, "error adding column a")
	assert.NilError(t, tx.Rollback())
	assert.NilError(t, mock.ExpectationsWereMet())
}

func TestKnownColumnsSkipsFixedColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NilError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"column_name", "data_type"}).
		AddRow("id", "bigint").
		AddRow("title", "text").
		AddRow("content_blocks", "jsonb").
		AddRow("rating", "bigint").
		AddRow("price", "numeric").
		AddRow("meta", "jsonb").
		AddRow("pinned", "boolean").
		AddRow("mood", "text")
	mock.ExpectQuery("select column_name, data_type from information_schema.columns").
		WithArgs(PostsTable).WillReturnRows(rows)

	known, err := KnownColumns(context.Background(), sqlx.NewDb(db, "postgres"))
	assert.NilError(t, err)
	assert.DeepEqual(t, known, map[string]ColumnType{
		"rating": TypeBigInt,
		"price":  TypeNumeric,
		"meta":   TypeJSON,
		"pinned": TypeBoolean,
		"mood":   TypeText,
	})
	assert.NilError(t, mock.ExpectationsWereMet())
}

func TestReportCountsColumns(t *testing.T) {
	before := testutil.ToFloat64(monitoring.SchemaColumnsCreated.WithLabelValues(string(TypeBoolean)))

	newTestEvolver(10, 100).Report(1, &Plan{Columns: []Column{
		{Name: "pinned", Type: TypeBoolean},
		{Name: "hidden", Type: TypeBoolean},
	}})

	after := testutil.ToFloat64(monitoring.SchemaColumnsCreated.WithLabelValues(string(TypeBoolean)))
	assert.Equal(t, after-before, float64(2))
}
