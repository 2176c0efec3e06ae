package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sanspareilsmyn/sqlitelens/internal/session"
	"github.com/sanspareilsmyn/sqlitelens/internal/sqlitedb"
)

// Loader opens database buffers and installs them in the session.
type Loader struct {
	session *session.Session
	tmpDir  string
	logger  *zap.Logger

	mu sync.Mutex // serializes loads
}

// NewLoader creates a Loader. Temp copies of opened databases go to tmpDir,
// or to the OS default when tmpDir is empty.
func NewLoader(sess *session.Session, tmpDir string, logger *zap.Logger) *Loader {
	return &Loader{session: sess, tmpDir: tmpDir, logger: logger}
}

// Load opens req.Data and makes it the current database. A buffer with the
// fingerprint of the current database is not reopened; the current database
// is returned with reused set.
func (l *Loader) Load(ctx context.Context, req session.LoadRequest) (loaded *session.Loaded, reused bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fp := sqlitedb.Fingerprint(req.Data)
	if cur, err := l.session.Current(); err == nil && cur.Info.Fingerprint == fp {
		l.logger.Info("Database already loaded, skipping reopen",
			zap.String("name", req.Name),
			zap.String("fingerprint", fp),
		)
		return cur, true, nil
	}

	db, err := sqlitedb.Open(ctx, req.Name, req.Data, l.tmpDir, l.logger.Named("sqlitedb"))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	tables, err := db.Tables(ctx)
	if err != nil {
		_ = db.Close()
		return nil, false, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	info := session.NewInfo(db, req.Origin, tables)
	return l.session.Replace(db, info), false, nil
}
