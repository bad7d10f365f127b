package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/watchpipe/internal/core"
	"github.com/you/watchpipe/internal/httpapi"
	"github.com/you/watchpipe/internal/ingesttrace"
)

const schema = `CREATE TABLE IF NOT EXISTS analyzed_messages (
  id TEXT NOT NULL PRIMARY KEY,
  ts TEXT NOT NULL,
  sender TEXT NOT NULL,
  group_name TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL,
  message_type TEXT NOT NULL,
  brand TEXT,
  model TEXT,
  reference TEXT,
  year INTEGER,
  price REAL,
  currency TEXT NOT NULL DEFAULT '',
  condition TEXT NOT NULL,
  confidence REAL NOT NULL,
  method TEXT NOT NULL,
  result_json TEXT NOT NULL DEFAULT '{}',
  embedding_json TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_analyzed_ts ON analyzed_messages (ts);
CREATE INDEX IF NOT EXISTS idx_analyzed_type ON analyzed_messages (message_type);`

type SQLiteSink struct {
	db *sql.DB
}

const defaultListLimit = 100

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplySQLitePragmas(context.Background(), db)
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func (s *SQLiteSink) Write(msg core.AnalyzedMessage, trace *ingesttrace.MessageTrace) error {
	const q = `INSERT INTO analyzed_messages
  (id, ts, sender, group_name, text, message_type, brand, model, reference, year, price, currency, condition, confidence, method, result_json, embedding_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;`

	resultJSON, err := json.Marshal(msg.Result)
	if err != nil {
		return errors.Wrap(err, "encode result")
	}

	ts := msg.Message.Ts.UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(q,
		msg.Message.ID, ts, msg.Message.Sender, msg.Message.GroupName, msg.Message.Text,
		string(msg.Result.MessageType),
		msg.Result.Brand, msg.Result.Model, msg.Result.Reference, msg.Result.Year,
		msg.Result.Price, msg.Result.Currency,
		string(msg.Result.Condition), msg.Result.ConfidenceScore, string(msg.Result.Method),
		string(resultJSON), msg.EmbeddingJSON)
	if err != nil {
		return errors.Wrap(err, "insert analyzed message")
	}
	if trace != nil {
		trace.IncCounter(ingesttrace.StageWrittenToDB)
	}
	return nil
}

func (s *SQLiteSink) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteSink) String() string {
	return fmt.Sprintf("SQLiteSink{%p}", s.db)
}

func (s *SQLiteSink) CountMessages(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildMessageQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteSink) ListMessages(ctx context.Context, filters httpapi.Filters) ([]core.AnalyzedMessage, error) {
	query, args := buildMessageQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []core.AnalyzedMessage
	for rows.Next() {
		var (
			msg        core.AnalyzedMessage
			ts         string
			resultJSON string
		)
		if err := rows.Scan(&msg.Message.ID, &ts, &msg.Message.Sender, &msg.Message.GroupName,
			&msg.Message.Text, &resultJSON, &msg.EmbeddingJSON); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			msg.Message.Ts = t
		}
		if err := json.Unmarshal([]byte(resultJSON), &msg.Result); err != nil {
			return nil, errors.Wrap(err, "decode result")
		}
		out = append(out, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}
	return out, nil
}

func buildMessageQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM analyzed_messages")
	} else {
		builder.WriteString("SELECT id, ts, sender, group_name, text, result_json, embedding_json FROM analyzed_messages")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Types) > 0 {
		placeholders := make([]string, 0, len(filters.Types))
		for _, mt := range filters.Types {
			placeholders = append(placeholders, "?")
			args = append(args, string(mt))
		}
		conditions = append(conditions, fmt.Sprintf("message_type IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(filters.Brands) > 0 {
		ors := make([]string, 0, len(filters.Brands))
		for _, b := range filters.Brands {
			ors = append(ors, "LOWER(brand) LIKE '%' || ? || '%'")
			args = append(args, b)
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if len(filters.Groups) > 0 {
		ors := make([]string, 0, len(filters.Groups))
		for _, g := range filters.Groups {
			ors = append(ors, "LOWER(group_name) LIKE '%' || ? || '%'")
			args = append(args, g)
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if filters.MinConfidence > 0 {
		conditions = append(conditions, "confidence >= ?")
		args = append(args, filters.MinConfidence)
	}

	if filters.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY ts ")
		builder.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}
