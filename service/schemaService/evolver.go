package schemaService

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/monitoring"
)

// default limits
const (
	DefaultMaxNewColumns = 10
	DefaultMaxColumns    = 100
)

// PostsTable - table dynamic columns are added to
const PostsTable = "posts"

// ErrLimitExceeded - request tried to provision more dynamic columns than allowed
var ErrLimitExceeded = errors.New("dynamic column limit exceeded")

// LimitError - details of an exceeded column limit
type LimitError struct {
	Requested int
	Limit     int
	Total     bool
}

func (e *LimitError) Error() string {
	if e.Total {
		return fmt.Sprintf("table would have %d dynamic columns, at most %d allowed", e.Requested, e.Limit)
	}
	return fmt.Sprintf("request creates %d new columns, at most %d allowed", e.Requested, e.Limit)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// Column - dynamic column definition
type Column struct {
	Name string
	Type ColumnType
}

// Plan - outcome of inspecting extra request fields
// Columns lists columns that do not exist yet. Values holds storage values for every accepted field
type Plan struct {
	Columns []Column
	Values  map[string]interface{}
}

// Empty - reports whether the plan neither creates columns nor writes values
func (p *Plan) Empty() bool {
	return len(p.Columns) == 0 && len(p.Values) == 0
}

// Names - accepted field names in stable order
func (p *Plan) Names() []string {
	names := make([]string, 0, len(p.Values))
	for name := range p.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evolver - provisions dynamic post columns from unknown request fields
type Evolver struct {
	// MaxNewColumns - columns a single request may create
	MaxNewColumns int
	// MaxColumns - dynamic columns the table may hold in total
	MaxColumns int
	logger     *log.Entry
}

func NewEvolver(maxNewColumns, maxColumns int, logger *log.Entry) *Evolver {
	if maxNewColumns <= 0 {
		maxNewColumns = DefaultMaxNewColumns
	}
	if maxColumns <= 0 {
		maxColumns = DefaultMaxColumns
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Evolver{
		MaxNewColumns: maxNewColumns,
		MaxColumns:    maxColumns,
		logger:        logger,
	}
}

// Plan - validates candidate fields against the known dynamic columns
// Invalid and reserved names are dropped silently. Limits are checked before anything is created,
// so an exceeded limit leaves the schema untouched
func (e *Evolver) Plan(candidates map[string]interface{}, known map[string]ColumnType) (*Plan, error) {
	plan := &Plan{Values: make(map[string]interface{})}

	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if IsReservedName(name) || !IsValidColumnName(name) {
			e.logger.Debugf("Dropping dynamic field with rejected name: %q", name)
			continue
		}

		raw := candidates[name]
		columnType, exists := known[name]
		if !exists {
			columnType = InferColumnType(raw)
			plan.Columns = append(plan.Columns, Column{Name: name, Type: columnType})
		}

		value, err := ConvertValue(columnType, raw)
		if err != nil {
			return nil, err
		}
		plan.Values[name] = value
	}

	if len(plan.Columns) > e.MaxNewColumns {
		return nil, &LimitError{Requested: len(plan.Columns), Limit: e.MaxNewColumns}
	}
	if total := len(known) + len(plan.Columns); len(plan.Columns) > 0 && total > e.MaxColumns {
		return nil, &LimitError{Requested: total, Limit: e.MaxColumns, Total: true}
	}

	return plan, nil
}

// AddColumnStatement - DDL for a single dynamic column
func AddColumnStatement(column Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		PostsTable, pq.QuoteIdentifier(column.Name), column.Type)
}

// Apply - creates planned columns inside tx. Creation is idempotent, concurrent requests adding
// the same column do not fail each other
func (e *Evolver) Apply(ctx context.Context, tx *sqlx.Tx, plan *Plan) error {
	for _, column := range plan.Columns {
		if _, err := tx.ExecContext(ctx, AddColumnStatement(column)); err != nil {
			return errors.Wrapf(err, "error adding column %s", column.Name)
		}
	}
	return nil
}

// Audit - records created columns. Runs in the same transaction as the row write
func (e *Evolver) Audit(ctx context.Context, tx *sqlx.Tx, postID int64, plan *Plan) error {
	for _, column := range plan.Columns {
		if _, err := tx.ExecContext(ctx,
			"insert into schema_evolutions (column_name, column_type, post_id) values ($1, $2, $3)",
			column.Name, string(column.Type), postID); err != nil {
			return errors.Wrapf(err, "error recording evolution of column %s", column.Name)
		}
	}
	return nil
}

// Report - logs and counts columns once their transaction committed
func (e *Evolver) Report(postID int64, plan *Plan) {
	for _, column := range plan.Columns {
		e.logger.WithFields(log.Fields{
			"column": column.Name,
			"type":   column.Type,
			"post":   postID,
		}).Info("Dynamic column provisioned")
		monitoring.SchemaColumnsCreated.WithLabelValues(string(column.Type)).Inc()
	}
}

// KnownColumns - dynamic columns of the posts table with their types
func KnownColumns(ctx context.Context, q sqlx.QueryerContext) (map[string]ColumnType, error) {
	type columnInfo struct {
		Name     string `db:"column_name"`
		DataType string `db:"data_type"`
	}

	var columns []columnInfo
	if err := sqlx.SelectContext(ctx, q, &columns,
		"select column_name, data_type from information_schema.columns where table_schema = current_schema() and table_name = $1",
		PostsTable); err != nil {
		return nil, errors.Wrap(err, "error reading posts columns")
	}

	known := make(map[string]ColumnType)
	for _, column := range columns {
		if IsReservedName(column.Name) {
			continue
		}
		known[column.Name] = ColumnTypeFromDataType(column.DataType)
	}
	return known, nil
}

// ColumnTypeFromDataType - maps information_schema / driver type names onto column types
func ColumnTypeFromDataType(dataType string) ColumnType {
	switch dataType {
	case "jsonb", "json", "JSONB", "JSON":
		return TypeJSON
	case "bigint", "integer", "smallint", "INT8", "INT4", "INT2":
		return TypeBigInt
	case "numeric", "double precision", "real", "NUMERIC", "FLOAT8", "FLOAT4":
		return TypeNumeric
	case "boolean", "BOOL":
		return TypeBoolean
	default:
		return TypeText
	}
}
