package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	mysqldrv "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/alexanderjulianmartinez/db-transfer/internal/config"
	"github.com/alexanderjulianmartinez/db-transfer/internal/logging"
	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

// Conn is one scoped session: a server with at most one database selected.
// The pool is capped at a single connection so every statement on a Conn
// runs in the same session, in order.
type Conn struct {
	db  *sql.DB
	cfg config.ConnectionConfig

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an already opened handle.
func NewConn(db *sql.DB, cfg config.ConnectionConfig) *Conn {
	return &Conn{db: db, cfg: cfg}
}

func (c *Conn) DB() *sql.DB { return c.db }

// Database is the selected database name, empty for server connections.
func (c *Conn) Database() string { return c.cfg.Database }

func (c *Conn) String() string {
	if c.cfg.Database == "" {
		return c.cfg.Addr()
	}
	return c.cfg.Addr() + "/" + c.cfg.Database
}

// Close is idempotent and safe on a nil Conn.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.db == nil {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// Manager opens and releases connections. No retry is attempted: the first
// failed connect is returned to the caller.
type Manager struct {
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logging.OrNop(logger)}
}

// OpenServer connects without selecting a database.
func (m *Manager) OpenServer(ctx context.Context, server config.ConnectionConfig) (*Conn, error) {
	return m.Open(ctx, server.WithDatabase(""))
}

// OpenDatabase connects with the server's credentials to the named database.
func (m *Manager) OpenDatabase(ctx context.Context, server config.ConnectionConfig, database string) (*Conn, error) {
	return m.Open(ctx, server.WithDatabase(database))
}

func (m *Manager) Open(ctx context.Context, cfg config.ConnectionConfig) (*Conn, error) {
	connector, err := mysqldrv.NewConnector(DriverConfig(cfg))
	if err != nil {
		return nil, types.ConnectionError("open "+cfg.Addr(), err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		m.logger.Error("mysql connect failed", zap.String("addr", cfg.Addr()), zap.String("database", cfg.Database), zap.Error(err))
		return nil, types.ConnectionError("connect "+cfg.Addr(), describeDriverError(err))
	}

	conn := NewConn(db, cfg)
	m.logger.Info("connected", zap.String("addr", cfg.Addr()), zap.String("database", cfg.Database))
	return conn, nil
}

// Close releases conn; it never fails and accepts nil or closed connections.
func (m *Manager) Close(conn *Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		m.logger.Warn("close connection", zap.String("conn", conn.String()), zap.Error(err))
		return
	}
	m.logger.Debug("connection closed", zap.String("conn", conn.String()))
}

// DriverConfig translates a connection config into the driver's config.
// parseTime stays off so temporal values round-trip as the server's text.
func DriverConfig(cfg config.ConnectionConfig) *mysqldrv.Config {
	dc := mysqldrv.NewConfig()
	dc.Net = "tcp"
	dc.Addr = cfg.Addr()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.DBName = cfg.Database
	dc.ParseTime = false
	return dc
}

func describeDriverError(err error) error {
	var myErr *mysqldrv.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case 1044, 1045:
		return fmt.Errorf("credentials rejected: %w", err)
	case 1049:
		return fmt.Errorf("unknown database: %w", err)
	}
	return err
}
