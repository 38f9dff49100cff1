package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"codearena/internal/common/db"
)

// fakeDB answers queries from scripted results and records every statement.
type fakeDB struct {
	mu       sync.Mutex
	rows     map[string][][]interface{}
	affected int64
	execErr  error
	execs    []fakeCall
	queries  []fakeCall
}

type fakeCall struct {
	query string
	args  []interface{}
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string][][]interface{}), affected: 1}
}

// on registers rows returned for any query containing fragment.
func (f *fakeDB) on(fragment string, rows ...[]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[fragment] = rows
}

func (f *fakeDB) match(query string) [][]interface{} {
	best := ""
	for fragment := range f.rows {
		if strings.Contains(query, fragment) && len(fragment) > len(best) {
			best = fragment
		}
	}
	if best == "" {
		return nil
	}
	return f.rows[best]
}

func (f *fakeDB) Query(_ context.Context, query string, args ...interface{}) (db.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, fakeCall{query: query, args: args})
	return &fakeRows{rows: f.match(query), pos: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, query string, args ...interface{}) db.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, fakeCall{query: query, args: args})
	rows := f.match(query)
	if len(rows) == 0 {
		return fakeRow{err: sql.ErrNoRows}
	}
	return fakeRow{values: rows[0]}
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...interface{}) (db.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, fakeCall{query: query, args: args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult{affected: f.affected}, nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(nil)
}

func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }

func (f *fakeDB) lastExec() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.execs) == 0 {
		return fakeCall{}
	}
	return f.execs[len(f.execs)-1]
}

func (f *fakeDB) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type fakeRows struct {
	rows [][]interface{}
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error { return assign(r.rows[r.pos], dest) }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Err() error                     { return nil }

type fakeResult struct {
	affected int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

func assign(values, dest []interface{}) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: have %d values, want %d", len(values), len(dest))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		value := reflect.ValueOf(v)
		if !value.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan column %d: %s is not assignable to %s", i, value.Type(), target.Type())
		}
		target.Set(value)
	}
	return nil
}
