package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

// PostgresStore persists engagement data in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool. Call ApplyMigrations first.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// mapPgErr translates driver errors into the domain taxonomy.
func mapPgErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
		case "23514": // check_violation
			return fmt.Errorf("%s: %w", what, domain.ErrValidation)
		case "23505", "40001", "40P01": // unique_violation, serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w: %s", what, domain.ErrConflict, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *PostgresStore) SeedAnswer(ctx context.Context, a domain.Answer) (domain.Answer, error) {
	var row pgx.Row
	if a.ID == 0 {
		row = s.pool.QueryRow(ctx,
			`INSERT INTO answers (body) VALUES ($1) RETURNING id, created_at`, a.Body)
	} else {
		row = s.pool.QueryRow(ctx,
			`INSERT INTO answers (id, body) VALUES ($1, $2) RETURNING id, created_at`, a.ID, a.Body)
	}
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return domain.Answer{}, mapPgErr(err, "seed answer")
	}
	// Keep BIGSERIAL ahead of explicitly chosen ids.
	if _, err := s.pool.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('answers', 'id'), GREATEST((SELECT MAX(id) FROM answers), 1))`,
	); err != nil {
		return domain.Answer{}, mapPgErr(err, "bump answers sequence")
	}
	a.Votes = domain.VoteTally{}
	a.VotesBy = nil
	a.Favorited = nil
	a.CommentCount = 0
	return a, nil
}

func (s *PostgresStore) UpsertVote(ctx context.Context, answerID int64, voterID string, level domain.Level) error {
	const q = `INSERT INTO answer_votes (answer_id, voter_id, level)
	           VALUES ($1, $2, $3)
	           ON CONFLICT (answer_id, voter_id) DO UPDATE SET
	             level = EXCLUDED.level,
	             updated_at = now()`
	_, err := s.pool.Exec(ctx, q, answerID, voterID, int16(level))
	return mapPgErr(err, "upsert vote")
}

func (s *PostgresStore) DeleteVote(ctx context.Context, answerID int64, voterID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM answer_votes WHERE answer_id = $1 AND voter_id = $2`, answerID, voterID)
	return mapPgErr(err, "delete vote")
}

func (s *PostgresStore) ListVotes(ctx context.Context, answerID int64) ([]domain.VoteRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT answer_id, voter_id, level FROM answer_votes WHERE answer_id = $1 ORDER BY voter_id`, answerID)
	if err != nil {
		return nil, mapPgErr(err, "list votes")
	}
	return collectVotes(rows)
}

func (s *PostgresStore) ListVotesForAnswers(ctx context.Context, answerIDs []int64) (map[int64][]domain.VoteRecord, error) {
	out := make(map[int64][]domain.VoteRecord, len(answerIDs))
	if len(answerIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT answer_id, voter_id, level FROM answer_votes
		 WHERE answer_id = ANY($1) ORDER BY answer_id, voter_id`, answerIDs)
	if err != nil {
		return nil, mapPgErr(err, "list votes for answers")
	}
	records, err := collectVotes(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		out[r.AnswerID] = append(out[r.AnswerID], r)
	}
	return out, nil
}

func collectVotes(rows pgx.Rows) ([]domain.VoteRecord, error) {
	defer rows.Close()
	out := []domain.VoteRecord{}
	for rows.Next() {
		var (
			r     domain.VoteRecord
			level int16
		)
		if err := rows.Scan(&r.AnswerID, &r.VoterID, &level); err != nil {
			return nil, mapPgErr(err, "scan vote")
		}
		r.Level = domain.Level(level)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "list votes")
	}
	return out, nil
}

func (s *PostgresStore) ListVotesByVoter(ctx context.Context, voterID string, answerIDs []int64) (map[int64]domain.Level, error) {
	out := make(map[int64]domain.Level)
	if len(answerIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT answer_id, level FROM answer_votes WHERE voter_id = $1 AND answer_id = ANY($2)`,
		voterID, answerIDs)
	if err != nil {
		return nil, mapPgErr(err, "list votes by voter")
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var level int16
		if err := rows.Scan(&id, &level); err != nil {
			return nil, mapPgErr(err, "scan vote")
		}
		out[id] = domain.Level(level)
	}
	return out, mapPgErr(rows.Err(), "list votes by voter")
}

func (s *PostgresStore) SaveTally(ctx context.Context, answerID int64, tally domain.VoteTally) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE answers SET votes_level1 = $2, votes_level2 = $3, votes_level3 = $4 WHERE id = $1`,
		answerID, tally.Level1, tally.Level2, tally.Level3)
	if err != nil {
		return mapPgErr(err, "save tally")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("answer %d: %w", answerID, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpsertFavorite(ctx context.Context, answerID int64, voterID string) error {
	const q = `INSERT INTO answer_favorites (answer_id, voter_id)
	           VALUES ($1, $2)
	           ON CONFLICT (answer_id, voter_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, answerID, voterID)
	return mapPgErr(err, "upsert favorite")
}

func (s *PostgresStore) DeleteFavorite(ctx context.Context, answerID int64, voterID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM answer_favorites WHERE answer_id = $1 AND voter_id = $2`, answerID, voterID)
	return mapPgErr(err, "delete favorite")
}

func (s *PostgresStore) FavoriteExists(ctx context.Context, answerID int64, voterID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM answer_favorites WHERE answer_id = $1 AND voter_id = $2)`,
		answerID, voterID).Scan(&ok)
	return ok, mapPgErr(err, "favorite exists")
}

func (s *PostgresStore) ListFavoritesForVoter(ctx context.Context, voterID string, answerIDs []int64) ([]int64, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if answerIDs == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT answer_id FROM answer_favorites WHERE voter_id = $1 ORDER BY answer_id`, voterID)
	} else {
		if len(answerIDs) == 0 {
			return []int64{}, nil
		}
		rows, err = s.pool.Query(ctx,
			`SELECT answer_id FROM answer_favorites WHERE voter_id = $1 AND answer_id = ANY($2) ORDER BY answer_id`,
			voterID, answerIDs)
	}
	if err != nil {
		return nil, mapPgErr(err, "list favorites")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapPgErr(err, "list favorites")
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

func (s *PostgresStore) GetAnswer(ctx context.Context, answerID int64) (domain.Answer, error) {
	const q = `SELECT a.id, a.body, a.votes_level1, a.votes_level2, a.votes_level3, a.created_at,
	                  (SELECT COUNT(*) FROM answer_comments c WHERE c.answer_id = a.id)
	           FROM answers a WHERE a.id = $1`
	var a domain.Answer
	err := s.pool.QueryRow(ctx, q, answerID).Scan(&a.ID, &a.Body,
		&a.Votes.Level1, &a.Votes.Level2, &a.Votes.Level3, &a.CreatedAt, &a.CommentCount)
	if err != nil {
		return domain.Answer{}, mapPgErr(err, fmt.Sprintf("answer %d", answerID))
	}
	return a, nil
}

func (s *PostgresStore) AnswerExists(ctx context.Context, answerID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM answers WHERE id = $1)`, answerID).Scan(&ok)
	return ok, mapPgErr(err, "answer exists")
}

func (s *PostgresStore) AddComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	const q = `INSERT INTO answer_comments (id, answer_id, profile_id, body)
	           VALUES ($1, $2, $3, $4)
	           RETURNING created_at`
	if err := s.pool.QueryRow(ctx, q, c.ID, c.AnswerID, c.ProfileID, c.Body).Scan(&c.CreatedAt); err != nil {
		return domain.Comment{}, mapPgErr(err, "add comment")
	}
	return c, nil
}

func (s *PostgresStore) CountComments(ctx context.Context, answerID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM answer_comments WHERE answer_id = $1`, answerID).Scan(&n)
	return n, mapPgErr(err, "count comments")
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
