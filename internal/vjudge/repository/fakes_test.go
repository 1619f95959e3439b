package repository

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"reflect"
	"sync"

	"vjudge/internal/common/db"
	"vjudge/internal/common/storage"
)

type execCall struct {
	query string
	args  []interface{}
}

// fakeDB answers queries from queryFn and records every Exec.
type fakeDB struct {
	mu        sync.Mutex
	dialect   db.Dialect
	queryFn   func(query string, args []interface{}) ([][]interface{}, error)
	execFn    func(query string, args []interface{}) (int64, error)
	execs     []execCall
	commits   int
	rollbacks int
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	rows, err := f.rows(query, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{rows: rows, idx: -1}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	rows, err := f.rows(query, args)
	return &fakeRow{rows: rows, err: err}
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.mu.Lock()
	f.execs = append(f.execs, execCall{query: query, args: args})
	fn := f.execFn
	f.mu.Unlock()
	affected := int64(1)
	if fn != nil {
		n, err := fn(query, args)
		if err != nil {
			return nil, err
		}
		affected = n
	}
	return fakeResult(affected), nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	if err := fn(&fakeTx{f}); err != nil {
		f.mu.Lock()
		f.rollbacks++
		f.mu.Unlock()
		return err
	}
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return nil
}

func (f *fakeDB) Dialect() db.Dialect {
	if f.dialect == "" {
		return db.DialectMySQL
	}
	return f.dialect
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

func (f *fakeDB) rows(query string, args []interface{}) ([][]interface{}, error) {
	if f.queryFn == nil {
		return nil, nil
	}
	return f.queryFn(query, args)
}

func (f *fakeDB) execCalls() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.execs...)
}

type fakeTx struct{ *fakeDB }

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeRows struct {
	rows [][]interface{}
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error { return assign(dest, r.rows[r.idx]) }
func (r *fakeRows) Err() error                     { return nil }
func (r *fakeRows) Close() error                   { return nil }

type fakeRow struct {
	rows [][]interface{}
	err  error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(r.rows) == 0 {
		return sql.ErrNoRows
	}
	return assign(dest, r.rows[0])
}

func assign(dest []interface{}, values []interface{}) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(values))
	}
	for i, d := range dest {
		if scanner, ok := d.(sql.Scanner); ok {
			if err := scanner.Scan(values[i]); err != nil {
				return err
			}
			continue
		}
		target := reflect.ValueOf(d).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().ConvertibleTo(target.Type()) {
			return fmt.Errorf("scan column %d: cannot assign %T to %s", i, values[i], target.Type())
		}
		target.Set(v.Convert(target.Type()))
	}
	return nil
}

type storedObject struct {
	data        []byte
	contentType string
	meta        map[string]string
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string]storedObject
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string]storedObject)}
}

func (m *memoryStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string, userMeta map[string]string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+objectKey] = storedObject{data: data, contentType: contentType, meta: userMeta}
	return nil
}

func (m *memoryStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectKey)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *memoryStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[bucket+"/"+objectKey]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("object %s not found", objectKey)
	}
	return storage.ObjectStat{SizeBytes: int64(len(obj.data)), ContentType: obj.contentType, UserMeta: obj.meta}, nil
}

func (m *memoryStorage) EnsureBucket(ctx context.Context, bucket string) error { return nil }
