// Package archive persists committed engine events so that clients can page
// through them after the fact.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nftlend/core/events"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Record is the database row for one archived event.
type Record struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Seq        uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;size:64;not null"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Record) TableName() string { return "lending_events" }

// Entry is the decoded form of a Record.
type Entry struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Archive appends events in emission order. It satisfies events.Emitter.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu   sync.Mutex
	next uint64
}

// Open connects to dsn, which is "sqlite:<path>" or "postgres:<conninfo>",
// and migrates the schema.
func Open(dsn string, logger *slog.Logger) (*Archive, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres:"):
		dialector = postgres.Open(strings.TrimPrefix(dsn, "postgres:"))
	default:
		return nil, fmt.Errorf("archive: unsupported dsn %q", dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return New(db, logger)
}

// New wraps an open gorm handle.
func New(db *gorm.DB, logger *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, errors.New("archive: nil database")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	var last Record
	next := uint64(1)
	err := db.Order("seq desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("archive: load sequence: %w", err)
	}
	if last.ID != "" {
		next = last.Seq + 1
	}
	return &Archive{db: db, logger: logger, nowFn: time.Now, next: next}, nil
}

// Emit archives evt. Failures are logged; the engine operation that
// produced the event has already committed.
func (a *Archive) Emit(evt events.Event) {
	if err := a.Append(context.Background(), evt); err != nil {
		a.logger.Error("archive event", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt and assigns it the next sequence number.
func (a *Archive) Append(ctx context.Context, evt events.Event) error {
	if a == nil || evt == nil {
		return nil
	}
	attrs := map[string]string{}
	if payload, ok := evt.(events.Payload); ok {
		if rendered := payload.Event(); rendered != nil && rendered.Attributes != nil {
			attrs = rendered.Attributes
		}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	record := Record{
		ID:         uuid.NewString(),
		Seq:        a.next,
		Type:       evt.EventType(),
		Attributes: string(encoded),
		CreatedAt:  a.nowFn().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	a.next++
	return nil
}

// List returns up to limit events with a sequence number above afterSeq in
// ascending order.
func (a *Archive) List(ctx context.Context, afterSeq uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	var records []Record
	err := a.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq asc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	entries := make([]Entry, 0, len(records))
	for _, record := range records {
		attrs := map[string]string{}
		if record.Attributes != "" {
			if err := json.Unmarshal([]byte(record.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("archive: decode %s: %w", record.ID, err)
			}
		}
		entries = append(entries, Entry{
			ID:         record.ID,
			Seq:        record.Seq,
			Type:       record.Type,
			Attributes: attrs,
			CreatedAt:  record.CreatedAt,
		})
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ events.Emitter = (*Archive)(nil)
