package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists records in a single-table SQLite database for
// deployments that want queryable history without log shipping.
type SQLiteSink struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	envelope_id TEXT,
	user_id     TEXT NOT NULL,
	channel     TEXT,
	decision    TEXT NOT NULL,
	subject     TEXT NOT NULL,
	reason      TEXT,
	metadata    TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_records(decision);
`

// NewSQLiteSink opens (or creates) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// The single writer goroutine is the only connection that mutates.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Append(rec Record) error {
	var meta []byte
	if len(rec.Metadata) > 0 {
		meta, _ = json.Marshal(rec.Metadata)
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_records (id, timestamp, envelope_id, user_id, channel, decision, subject, reason, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.EnvelopeID, rec.UserID,
		rec.Channel, string(rec.Decision), rec.Subject, rec.Reason, string(meta),
	)
	return err
}

func (s *SQLiteSink) Tail(n int, filter func(Record) bool) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, envelope_id, user_id, channel, decision, subject, reason, metadata
		 FROM audit_records ORDER BY seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		if len(out) >= n {
			break
		}
		var rec Record
		var ts, decision, meta string
		if err := rows.Scan(&rec.ID, &ts, &rec.EnvelopeID, &rec.UserID, &rec.Channel, &decision, &rec.Subject, &rec.Reason, &meta); err != nil {
			return nil, err
		}
		rec.Decision = Decision(decision)
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if meta != "" {
			json.Unmarshal([]byte(meta), &rec.Metadata)
		}
		if filter == nil || filter(rec) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
