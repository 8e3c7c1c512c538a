package dbopt

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/raisekit/opscore/pkg/errors"
)

// SQLStore implements Store on SQLite via sqlx. The richer DSL operators
// (range, overlap, text search) have no SQLite equivalent and are rejected
// with a validation error before any SQL is built.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore opens (creating if needed) a SQLite database at path.
func NewSQLStore(path string, maxConns int) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindDatabase, "failed to open database %s", path)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	return &SQLStore{db: db}, nil
}

// DB exposes the underlying handle for schema setup at boot.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var sqlOperators = map[string]string{
	OpEq:  "=",
	OpNeq: "!=",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// buildWhere renders predicates as a WHERE clause with positional args.
func buildWhere(preds []Predicate) (string, []interface{}, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}

	clauses := make([]string, 0, len(preds))
	args := make([]interface{}, 0, len(preds))

	for _, p := range preds {
		switch p.Operator {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
			clauses = append(clauses, fmt.Sprintf("%s %s ?", p.Column, sqlOperators[p.Operator]))
			args = append(args, p.Value)
		case OpLike, OpMatch:
			clauses = append(clauses, fmt.Sprintf("%s LIKE ?", p.Column))
			args = append(args, p.Value)
		case OpIs:
			if p.Value == nil {
				clauses = append(clauses, fmt.Sprintf("%s IS NULL", p.Column))
			} else {
				clauses = append(clauses, fmt.Sprintf("%s IS ?", p.Column))
				args = append(args, p.Value)
			}
		case OpIn:
			values := sliceValues(p.Value)
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", p.Column, placeholders))
			args = append(args, values...)
		default:
			return "", nil, errors.New(errors.KindValidation, fmt.Sprintf("operator %q is not supported by the SQL store", p.Operator))
		}
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func sliceValues(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []interface{}{v}
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func (s *SQLStore) Query(ctx context.Context, table string, preds []Predicate, opts QueryOptions) ([]Row, error) {
	where, args, err := buildWhere(preds)
	if err != nil {
		return nil, err
	}

	columns := "*"
	if len(opts.Select) > 0 {
		columns = strings.Join(opts.Select, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s", columns, table, where)
	if opts.OrderBy != "" {
		direction := "ASC"
		if opts.Desc {
			direction = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY %s %s", opts.OrderBy, direction)
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]Row, 0)
	for rows.Next() {
		row := make(Row)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func (s *SQLStore) Insert(ctx context.Context, table string, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	// Column order must be stable across rows.
	columns := make([]string, 0, len(rows[0]))
	for column := range rows[0] {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var inserted int64
	for _, row := range rows {
		args := make([]interface{}, len(columns))
		for i, column := range columns {
			args[i] = row[column]
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		n, _ := result.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLStore) Update(ctx context.Context, table string, data Row, preds []Predicate) (int64, error) {
	where, whereArgs, err := buildWhere(preds)
	if err != nil {
		return 0, err
	}

	columns := make([]string, 0, len(data))
	for column := range data {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	sets := make([]string, len(columns))
	args := make([]interface{}, 0, len(columns)+len(whereArgs))
	for i, column := range columns {
		sets[i] = column + " = ?"
		args = append(args, data[column])
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLStore) Delete(ctx context.Context, table string, preds []Predicate) (int64, error) {
	where, args, err := buildWhere(preds)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s%s", table, where)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
