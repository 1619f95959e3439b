package db

import (
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestRebind(t *testing.T) {
	cases := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{DialectMySQL, "SELECT a FROM t WHERE x = ? AND y = ?", "SELECT a FROM t WHERE x = ? AND y = ?"},
		{DialectPostgres, "SELECT a FROM t WHERE x = ? AND y = ?", "SELECT a FROM t WHERE x = $1 AND y = $2"},
		{DialectPostgres, "SELECT '?' FROM t WHERE x = ?", "SELECT '?' FROM t WHERE x = $1"},
		{DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tc := range cases {
		if got := Rebind(tc.dialect, tc.in); got != tc.want {
			t.Fatalf("Rebind(%s, %q) = %q, want %q", tc.dialect, tc.in, got, tc.want)
		}
	}
}

func TestUniqueViolation(t *testing.T) {
	myErr := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'd1-P1' for key 'uk_domain_pid'"}
	if key, ok := UniqueViolation(myErr); !ok || key != "uk_domain_pid" {
		t.Fatalf("mysql duplicate: key=%q ok=%v", key, ok)
	}

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "problem_domain_pid_key"}
	if key, ok := UniqueViolation(pgErr); !ok || key != "problem_domain_pid_key" {
		t.Fatalf("postgres duplicate: key=%q ok=%v", key, ok)
	}

	if _, ok := UniqueViolation(errors.New("boom")); ok {
		t.Fatalf("plain error reported as duplicate")
	}
}

func TestIgnoreDuplicate(t *testing.T) {
	insert := "INSERT INTO vjudge_mount (domain_id, list_name) VALUES (?, ?)"
	if got := IgnoreDuplicate(DialectMySQL, insert); got != "INSERT IGNORE INTO vjudge_mount (domain_id, list_name) VALUES (?, ?)" {
		t.Fatalf("mysql: %q", got)
	}
	if got := IgnoreDuplicate(DialectPostgres, insert); got != insert+" ON CONFLICT DO NOTHING" {
		t.Fatalf("postgres: %q", got)
	}
}
