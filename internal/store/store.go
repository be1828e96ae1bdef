package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

// Publisher receives a change event after every successful write.
type Publisher interface {
	Publish(ctx context.Context, ev change.Event) error
}

// Store persists the storefront tables through gorm.
type Store struct {
	db      *gorm.DB
	schemas map[string]*schema.Schema
	pub     Publisher
	log     *zap.Logger
}

// Open connects to Postgres for postgres:// DSNs and to SQLite for anything
// else, then migrates every registered table.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		// SQLite only supports one writer at a time
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, log)
}

func dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// New wraps an already-open gorm handle.
func New(db *gorm.DB, log *zap.Logger) (*Store, error) {
	s := &Store{
		db:      db,
		schemas: make(map[string]*schema.Schema),
		log:     log.Named("store"),
	}

	cache := &sync.Map{}
	for _, tbl := range record.Tables() {
		if err := db.AutoMigrate(tbl.New()); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", tbl.Name, err)
		}
		sch, err := schema.Parse(tbl.New(), cache, db.NamingStrategy)
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", tbl.Name, err)
		}
		s.schemas[tbl.Name] = sch
	}
	return s, nil
}

// SetPublisher wires the realtime feed. With no publisher, writes are silent
// (the Postgres trigger feed takes over in that setup).
func (s *Store) SetPublisher(p Publisher) { s.pub = p }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) table(name string) (record.Table, *schema.Schema, error) {
	tbl, ok := record.Lookup(name)
	if !ok {
		return record.Table{}, nil, fmt.Errorf("%w: %q", backend.ErrUnknownTable, name)
	}
	return tbl, s.schemas[name], nil
}

func column(sch *schema.Schema, name string) (*schema.Field, error) {
	f, ok := sch.FieldsByDBName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown column %s.%s", backend.ErrBadQuery, sch.Table, name)
	}
	return f, nil
}

func (s *Store) publish(ctx context.Context, ev change.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("publish change", zap.String("table", ev.Table), zap.String("id", ev.ID), zap.Error(err))
	}
}
