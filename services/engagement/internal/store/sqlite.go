package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore is a single-node AggregateStore on an embedded SQLite file.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path and applies the schema.
//
// The connection runs in WAL mode with foreign keys enforced and a single
// open connection, since SQLite allows one writer at a time.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func mapSQLiteErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch {
		case sqErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
		case sqErr.ExtendedCode == sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%s: %w", what, domain.ErrValidation)
		case sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey,
			sqErr.Code == sqlite3.ErrBusy, sqErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w: %s", what, domain.ErrConflict, sqErr.Error())
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *SQLiteStore) millis() int64 { return s.now().UTC().UnixMilli() }

// inClause renders "?,?,?" and the matching args for ids.
func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func (s *SQLiteStore) SeedAnswer(ctx context.Context, a domain.Answer) (domain.Answer, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	var (
		res sql.Result
		err error
	)
	if a.ID == 0 {
		res, err = s.db.ExecContext(ctx, `INSERT INTO answers (body, created_at) VALUES (?, ?)`,
			a.Body, a.CreatedAt.UnixMilli())
	} else {
		res, err = s.db.ExecContext(ctx, `INSERT INTO answers (id, body, created_at) VALUES (?, ?, ?)`,
			a.ID, a.Body, a.CreatedAt.UnixMilli())
	}
	if err != nil {
		return domain.Answer{}, mapSQLiteErr(err, "seed answer")
	}
	if a.ID == 0 {
		if a.ID, err = res.LastInsertId(); err != nil {
			return domain.Answer{}, fmt.Errorf("seed answer id: %w", err)
		}
	}
	a.CreatedAt = time.UnixMilli(a.CreatedAt.UnixMilli()).UTC()
	a.Votes = domain.VoteTally{}
	a.VotesBy = nil
	a.Favorited = nil
	a.CommentCount = 0
	return a, nil
}

func (s *SQLiteStore) UpsertVote(ctx context.Context, answerID int64, voterID string, level domain.Level) error {
	const q = `INSERT INTO answer_votes (answer_id, voter_id, level, updated_at)
	           VALUES (?, ?, ?, ?)
	           ON CONFLICT (answer_id, voter_id) DO UPDATE SET
	             level = excluded.level,
	             updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q, answerID, voterID, int(level), s.millis())
	return mapSQLiteErr(err, "upsert vote")
}

func (s *SQLiteStore) DeleteVote(ctx context.Context, answerID int64, voterID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM answer_votes WHERE answer_id = ? AND voter_id = ?`, answerID, voterID)
	return mapSQLiteErr(err, "delete vote")
}

func (s *SQLiteStore) ListVotes(ctx context.Context, answerID int64) ([]domain.VoteRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT answer_id, voter_id, level FROM answer_votes WHERE answer_id = ? ORDER BY voter_id`, answerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list votes")
	}
	return scanVotes(rows)
}

func (s *SQLiteStore) ListVotesForAnswers(ctx context.Context, answerIDs []int64) (map[int64][]domain.VoteRecord, error) {
	out := make(map[int64][]domain.VoteRecord, len(answerIDs))
	if len(answerIDs) == 0 {
		return out, nil
	}
	in, args := inClause(answerIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT answer_id, voter_id, level FROM answer_votes
		 WHERE answer_id IN (`+in+`) ORDER BY answer_id, voter_id`, args...)
	if err != nil {
		return nil, mapSQLiteErr(err, "list votes for answers")
	}
	records, err := scanVotes(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		out[r.AnswerID] = append(out[r.AnswerID], r)
	}
	return out, nil
}

func scanVotes(rows *sql.Rows) ([]domain.VoteRecord, error) {
	defer rows.Close()
	out := []domain.VoteRecord{}
	for rows.Next() {
		var r domain.VoteRecord
		if err := rows.Scan(&r.AnswerID, &r.VoterID, &r.Level); err != nil {
			return nil, mapSQLiteErr(err, "scan vote")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "list votes")
	}
	return out, nil
}

func (s *SQLiteStore) ListVotesByVoter(ctx context.Context, voterID string, answerIDs []int64) (map[int64]domain.Level, error) {
	out := make(map[int64]domain.Level)
	if len(answerIDs) == 0 {
		return out, nil
	}
	in, args := inClause(answerIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT answer_id, level FROM answer_votes WHERE voter_id = ? AND answer_id IN (`+in+`)`,
		append([]any{voterID}, args...)...)
	if err != nil {
		return nil, mapSQLiteErr(err, "list votes by voter")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			level domain.Level
		)
		if err := rows.Scan(&id, &level); err != nil {
			return nil, mapSQLiteErr(err, "scan vote")
		}
		out[id] = level
	}
	return out, mapSQLiteErr(rows.Err(), "list votes by voter")
}

func (s *SQLiteStore) SaveTally(ctx context.Context, answerID int64, tally domain.VoteTally) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE answers SET votes_level1 = ?, votes_level2 = ?, votes_level3 = ? WHERE id = ?`,
		tally.Level1, tally.Level2, tally.Level3, answerID)
	if err != nil {
		return mapSQLiteErr(err, "save tally")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("answer %d: %w", answerID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) UpsertFavorite(ctx context.Context, answerID int64, voterID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answer_favorites (answer_id, voter_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (answer_id, voter_id) DO NOTHING`,
		answerID, voterID, s.millis())
	return mapSQLiteErr(err, "upsert favorite")
}

func (s *SQLiteStore) DeleteFavorite(ctx context.Context, answerID int64, voterID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM answer_favorites WHERE answer_id = ? AND voter_id = ?`, answerID, voterID)
	return mapSQLiteErr(err, "delete favorite")
}

func (s *SQLiteStore) FavoriteExists(ctx context.Context, answerID int64, voterID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM answer_favorites WHERE answer_id = ? AND voter_id = ?)`,
		answerID, voterID).Scan(&ok)
	return ok, mapSQLiteErr(err, "favorite exists")
}

func (s *SQLiteStore) ListFavoritesForVoter(ctx context.Context, voterID string, answerIDs []int64) ([]int64, error) {
	q := `SELECT answer_id FROM answer_favorites WHERE voter_id = ?`
	args := []any{voterID}
	if answerIDs != nil {
		if len(answerIDs) == 0 {
			return []int64{}, nil
		}
		in, idArgs := inClause(answerIDs)
		q += ` AND answer_id IN (` + in + `)`
		args = append(args, idArgs...)
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY answer_id`, args...)
	if err != nil {
		return nil, mapSQLiteErr(err, "list favorites")
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapSQLiteErr(err, "scan favorite")
		}
		ids = append(ids, id)
	}
	return ids, mapSQLiteErr(rows.Err(), "list favorites")
}

func (s *SQLiteStore) GetAnswer(ctx context.Context, answerID int64) (domain.Answer, error) {
	const q = `SELECT a.id, a.body, a.votes_level1, a.votes_level2, a.votes_level3, a.created_at,
	                  (SELECT COUNT(*) FROM answer_comments c WHERE c.answer_id = a.id)
	           FROM answers a WHERE a.id = ?`
	var (
		a       domain.Answer
		created int64
	)
	err := s.db.QueryRowContext(ctx, q, answerID).Scan(&a.ID, &a.Body,
		&a.Votes.Level1, &a.Votes.Level2, &a.Votes.Level3, &created, &a.CommentCount)
	if err != nil {
		return domain.Answer{}, mapSQLiteErr(err, fmt.Sprintf("answer %d", answerID))
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	return a, nil
}

func (s *SQLiteStore) AnswerExists(ctx context.Context, answerID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM answers WHERE id = ?)`, answerID).Scan(&ok)
	return ok, mapSQLiteErr(err, "answer exists")
}

func (s *SQLiteStore) AddComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	created := s.millis()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answer_comments (id, answer_id, profile_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID.String(), c.AnswerID, c.ProfileID, c.Body, created)
	if err != nil {
		return domain.Comment{}, mapSQLiteErr(err, "add comment")
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	return c, nil
}

func (s *SQLiteStore) CountComments(ctx context.Context, answerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answer_comments WHERE answer_id = ?`, answerID).Scan(&n)
	return n, mapSQLiteErr(err, "count comments")
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
