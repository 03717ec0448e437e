package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

const validJSON = `{
  "server":    {"host": "db.local", "user": "root", "password": "pw"},
  "source_db": {"host": "db.local", "port": 3307, "database": "shop", "user": "root", "password": "pw"},
  "target_db": {"host": "db.local", "database": "shop_copy", "user": "root", "password": "pw"},
  "tables":    ["customers", "orders"]
}`

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	cfg, err := LoadConfig(writeTemp(t, "config.json", validJSON))
	if err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
	if cfg.SourceDB.Port != 3307 {
		t.Fatalf("expected explicit port 3307, got %d", cfg.SourceDB.Port)
	}
	if cfg.TargetDB.Port != DefaultPort || cfg.Server.Port != DefaultPort {
		t.Fatalf("expected default port, got target=%d server=%d", cfg.TargetDB.Port, cfg.Server.Port)
	}
	if cfg.BatchSize != DefaultBatchSize {
		t.Fatalf("expected default batch size, got %d", cfg.BatchSize)
	}
	if len(cfg.Tables) != 2 || cfg.Tables[0] != "customers" {
		t.Fatalf("unexpected tables: %v", cfg.Tables)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	body := `
server: {host: db.local, user: root}
source_db: {host: db.local, database: a, user: root}
target_db: {host: db.local, database: b, user: root}
tables: [t1]
batch_size: 250
events:
  kafka:
    brokers: ["localhost:9092"]
    topic: db-transfer.events
`
	cfg, err := LoadConfig(writeTemp(t, "config.yaml", body))
	if err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
	if cfg.BatchSize != 250 {
		t.Fatalf("expected batch size 250, got %d", cfg.BatchSize)
	}
	if !cfg.Events.Kafka.Enabled() {
		t.Fatalf("expected kafka events enabled")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing server host": `{"server": {"user": "root"}, "source_db": {"host": "h", "database": "a", "user": "u"}, "target_db": {"host": "h", "database": "b", "user": "u"}}`,
		"missing source db":   `{"server": {"host": "h", "user": "root"}, "source_db": {"host": "h", "user": "u"}, "target_db": {"host": "h", "database": "b", "user": "u"}}`,
		"duplicate table":     `{"server": {"host": "h", "user": "root"}, "source_db": {"host": "h", "database": "a", "user": "u"}, "target_db": {"host": "h", "database": "b", "user": "u"}, "tables": ["t", "t"]}`,
		"kafka without topic": `{"server": {"host": "h", "user": "root"}, "source_db": {"host": "h", "database": "a", "user": "u"}, "target_db": {"host": "h", "database": "b", "user": "u"}, "events": {"kafka": {"brokers": ["k:9092"]}}}`,
		"malformed":           `{"server": `,
		"server port range":   `{"server": {"host": "h", "port": 70000, "user": "root"}, "source_db": {"host": "h", "database": "a", "user": "u"}, "target_db": {"host": "h", "database": "b", "user": "u"}}`,
		"negative port":       `{"server": {"host": "h", "port": -1, "user": "root"}, "source_db": {"host": "h", "database": "a", "user": "u"}, "target_db": {"host": "h", "database": "b", "user": "u"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeTemp(t, "config.json", body))
			if err == nil {
				t.Fatalf("expected validation error, got nil")
			}
			if !errors.Is(err, types.ErrConfig) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, types.ErrConfig) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if _, err := LoadConfig(""); !errors.Is(err, types.ErrConfig) {
		t.Fatalf("expected ConfigError for empty path, got %v", err)
	}
}

func TestConnectionConfigHelpers(t *testing.T) {
	server := ConnectionConfig{Host: "db.local", User: "root", Password: "secret"}
	scoped := server.WithDatabase("shop")
	if scoped.Database != "shop" || server.Database != "" {
		t.Fatalf("WithDatabase must copy, got server=%+v scoped=%+v", server, scoped)
	}
	if got := server.Addr(); got != "db.local:3306" {
		t.Fatalf("unexpected addr %q", got)
	}
	if server.Redacted().Password == "secret" {
		t.Fatalf("password not redacted")
	}
}

func TestConfigRedacted(t *testing.T) {
	cfg, err := Parse([]byte(validJSON))
	if err != nil {
		t.Fatal(err)
	}
	red := cfg.Redacted()
	for _, c := range []ConnectionConfig{red.Server, red.SourceDB, red.TargetDB} {
		if c.Password != "********" {
			t.Fatalf("password not masked: %+v", c)
		}
	}
	if cfg.SourceDB.Password != "pw" {
		t.Fatalf("Redacted must not modify the original")
	}
	red.Tables[0] = "changed"
	if cfg.Tables[0] != "customers" {
		t.Fatalf("Redacted must copy the table list")
	}
}
