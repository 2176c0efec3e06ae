// Package session tracks the database currently loaded into the service.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/sqlitelens/internal/sqlitedb"
)

var ErrNoDatabase = errors.New("no database loaded")

// Origin names where a database buffer came from.
type Origin string

const (
	OriginUpload Origin = "upload"
	OriginLocal  Origin = "local"
	OriginS3     Origin = "s3"
	OriginFile   Origin = "file"
)

// LoadRequest asks for a database buffer to become the current database.
type LoadRequest struct {
	Name   string
	Origin Origin
	Data   []byte
}

// Info describes a loaded database.
type Info struct {
	LoadID      uuid.UUID `json:"loadId"`
	Name        string    `json:"name"`
	Origin      Origin    `json:"origin"`
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	Tables      []string  `json:"tables"`
	LoadedAt    time.Time `json:"loadedAt"`
}

// HasTable reports whether the database has table.
func (i Info) HasTable(table string) bool {
	for _, t := range i.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// Loaded pairs an open database with its Info.
type Loaded struct {
	Info Info
	DB   *sqlitedb.Database
}

// ReplaceHook runs after the current database changes. prev is nil on the
// first load.
type ReplaceHook func(prev *Info, next Info)

// Session holds the single current database.
type Session struct {
	logger *zap.Logger

	mu      sync.RWMutex
	current *Loaded
	hooks   []ReplaceHook
}

func New(logger *zap.Logger) *Session {
	return &Session{logger: logger}
}

// NewInfo builds the Info of a freshly opened database.
func NewInfo(db *sqlitedb.Database, origin Origin, tables []string) Info {
	return Info{
		LoadID:      uuid.New(),
		Name:        db.Name(),
		Origin:      origin,
		Fingerprint: db.Fingerprint(),
		Size:        db.Size(),
		Tables:      tables,
		LoadedAt:    time.Now().UTC(),
	}
}

// OnReplace registers a hook.
func (s *Session) OnReplace(h ReplaceHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Replace installs db as the current database, closes the previous one and
// runs the replace hooks.
func (s *Session) Replace(db *sqlitedb.Database, info Info) *Loaded {
	next := &Loaded{Info: info, DB: db}

	s.mu.Lock()
	prev := s.current
	s.current = next
	hooks := append([]ReplaceHook(nil), s.hooks...)
	s.mu.Unlock()

	var prevInfo *Info
	if prev != nil {
		prevInfo = &prev.Info
		if err := prev.DB.Close(); err != nil {
			s.logger.Warn("Failed to close previous database",
				zap.String("name", prev.Info.Name),
				zap.Error(err),
			)
		}
	}
	for _, h := range hooks {
		h(prevInfo, info)
	}

	s.logger.Info("Database loaded",
		zap.String("name", info.Name),
		zap.String("origin", string(info.Origin)),
		zap.String("load_id", info.LoadID.String()),
		zap.String("fingerprint", info.Fingerprint),
		zap.Int("tables", len(info.Tables)),
	)
	return next
}

// Current returns the current database.
func (s *Session) Current() (*Loaded, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoDatabase
	}
	return s.current, nil
}

// Close closes the current database and leaves the session empty.
func (s *Session) Close() error {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	if cur == nil {
		return nil
	}
	return cur.DB.Close()
}
