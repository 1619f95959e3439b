package db

import (
	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig holds the configuration for MySQL connection pool
type MySQLConfig struct {
	// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=Local"
	DSN string
	PoolConfig
}

// NewMySQL opens a pooled MySQL connection.
func NewMySQL(config MySQLConfig) (*SQLDatabase, error) {
	return open("mysql", DialectMySQL, config.DSN, config.PoolConfig)
}
