package main

import (
	"testing"
	"time"

	"vjudge/pkg/testutil"

	"github.com/segmentio/kafka-go"
)

const minimalConfig = `
database:
  dsn: ${VJUDGE_TEST_DSN}
redis:
  addr: 127.0.0.1:6379
vjudge:
  host: judge-1
  queue: memory
`

func TestParseAppConfigDefaults(t *testing.T) {
	t.Setenv("VJUDGE_TEST_DSN", "root:pw@tcp(127.0.0.1:3306)/vjudge?parseTime=true")

	cfg, err := parseAppConfig([]byte(minimalConfig))
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, cfg.Database.DSN, "root:pw@tcp(127.0.0.1:3306)/vjudge?parseTime=true")
	testutil.AssertEqual(t, cfg.Database.Driver, "mysql")
	testutil.AssertEqual(t, cfg.Server.Addr, defaultHTTPAddr)
	testutil.AssertEqual(t, cfg.GRPC.Addr, defaultGRPCAddr)
	testutil.AssertEqual(t, cfg.VJudge.WaitTimeout, defaultWaitTimeout)
	testutil.AssertEqual(t, cfg.VJudge.LockTTL, defaultLockTTL)
	testutil.AssertEqual(t, cfg.Files.Prefix, defaultFilePrefix)
	testutil.AssertEqual(t, len(cfg.VJudge.Providers), 1)
	testutil.AssertEqual(t, cfg.VJudge.Providers[0], "codeforces")
	testutil.AssertTrue(t, cfg.Redis.PoolSize > 0, "redis pool defaults applied")
}

func TestParseAppConfigKeepsNegativeWaitTimeout(t *testing.T) {
	t.Setenv("VJUDGE_TEST_DSN", "dsn")

	cfg, err := parseAppConfig([]byte(minimalConfig + "  waitTimeout: -1s\n"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, cfg.VJudge.WaitTimeout, -time.Second)
	testutil.AssertEqual(t, cfg.serviceConfig().WaitTimeout, -time.Second)
}

func TestParseAppConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing dsn", raw: "redis:\n  addr: x\n"},
		{name: "missing redis", raw: "database:\n  dsn: x\n"},
		{name: "bad driver", raw: "database:\n  dsn: x\n  driver: oracle\nredis:\n  addr: x\nvjudge:\n  host: h\n  queue: memory\n"},
		{name: "kafka without brokers", raw: "database:\n  dsn: x\nredis:\n  addr: x\nvjudge:\n  host: h\n"},
		{name: "bad queue", raw: "database:\n  dsn: x\nredis:\n  addr: x\nvjudge:\n  host: h\n  queue: nats\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAppConfig([]byte(tt.raw))
			testutil.AssertTrue(t, err != nil, "expected config error")
		})
	}
}

func TestParseAppConfigPostgres(t *testing.T) {
	cfg, err := parseAppConfig([]byte("database:\n  driver: pgx\n  dsn: postgres://x\nredis:\n  addr: x\nvjudge:\n  host: h\n  queue: memory\n"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, cfg.Database.Driver, "postgres")
}

func TestParseCompression(t *testing.T) {
	testutil.AssertEqual(t, parseCompression("ZSTD"), kafka.Zstd)
	testutil.AssertEqual(t, parseCompression("gzip"), kafka.Gzip)
	testutil.AssertEqual(t, parseCompression(""), kafka.Compression(0))
}
