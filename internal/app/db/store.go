package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"pxplace/internal/app/placement"
)

// Executor is the subset of *pgxpool.Pool the store needs.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var placementColumns = []string{
	"id", "x", "y", "color", "who", "secondary_id", "placed_at", "mod_action", "undo_action", "undone",
}

// Store is the PostgreSQL placement history.
type Store struct {
	exec    Executor
	builder sq.StatementBuilderType
}

var _ placement.Store = (*Store)(nil)

// NewStore returns a store issuing statements through exec.
func NewStore(exec Executor) *Store {
	return &Store{
		exec:    exec,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// InsertPlacement appends p to the history and returns its id.
func (s *Store) InsertPlacement(ctx context.Context, p placement.Placement) (int64, error) {
	return s.insertPlacement(ctx, s.exec, p)
}

func (s *Store) insertPlacement(ctx context.Context, q queryRower, p placement.Placement) (int64, error) {
	stmt, args, err := s.builder.Insert("pixels").
		Columns("x", "y", "color", "who", "secondary_id", "placed_at", "mod_action", "undo_action").
		Values(p.X, p.Y, p.Color, p.PlacerID, nullableID(p.SecondaryID), p.At, p.ModAction, p.UndoAction).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert placement sql: %w", err)
	}

	var id int64
	if err := q.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert placement: %w", err)
	}
	return id, nil
}

// PlacementByID returns the record with id, or nil if there is none.
func (s *Store) PlacementByID(ctx context.Context, id int64) (*placement.Placement, error) {
	return s.selectOne(ctx, s.builder.Select(placementColumns...).
		From("pixels").
		Where(sq.Eq{"id": id}).
		Limit(1))
}

// LatestPlacementAt returns the newest record at (x, y), restorations included.
func (s *Store) LatestPlacementAt(ctx context.Context, x, y int) (*placement.Placement, error) {
	return s.selectOne(ctx, s.builder.Select(placementColumns...).
		From("pixels").
		Where(sq.Eq{"x": x, "y": y}).
		OrderBy("id DESC").
		Limit(1))
}

// UserUndoRecord returns the user's newest placement that can still be reverted.
func (s *Store) UserUndoRecord(ctx context.Context, userID string) (*placement.Placement, error) {
	return s.selectOne(ctx, s.builder.Select(placementColumns...).
		From("pixels").
		Where(sq.Eq{"who": userID, "undone": false, "undo_action": false}).
		OrderBy("id DESC").
		Limit(1))
}

func (s *Store) selectOne(ctx context.Context, query sq.SelectBuilder) (*placement.Placement, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select placement sql: %w", err)
	}

	p, err := scanPlacement(s.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("select placement: %w", err)
	}
	return p, nil
}

// RecordUndo marks undone as reverted and appends restore in one transaction.
func (s *Store) RecordUndo(ctx context.Context, undone placement.Placement, restore placement.Placement) (id int64, err error) {
	tx, err := s.exec.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin undo: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if err = tx.Commit(ctx); err != nil {
			id = 0
			err = fmt.Errorf("commit undo: %w", err)
		}
	}()

	stmt, args, err := s.builder.Update("pixels").
		Set("undone", true).
		Where(sq.Eq{"id": undone.ID, "undone": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build mark undone sql: %w", err)
	}

	tag, err := tx.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("mark placement undone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("mark placement %d undone: %w", undone.ID, ErrNotFound)
	}

	return s.insertPlacement(ctx, tx, restore)
}

// UpdateUserCooldown records the cooldown the user's last placement started.
func (s *Store) UpdateUserCooldown(ctx context.Context, userID string, seconds int) error {
	stmt, args, err := s.builder.Insert("user_cooldowns").
		Columns("user_id", "cooldown_seconds", "last_placed_at").
		Values(userID, seconds, sq.Expr("NOW()")).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET cooldown_seconds = EXCLUDED.cooldown_seconds, last_placed_at = EXCLUDED.last_placed_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert cooldown sql: %w", err)
	}

	if _, err := s.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert cooldown: %w", err)
	}
	return nil
}

// dwellQuery is true when the live pixel at the cell belongs to someone else,
// so covering it takes that user's pixel off the board.
const dwellQuery = `SELECT COALESCE((
	SELECT who <> $1 FROM pixels
	WHERE x = $2 AND y = $3 AND NOT undone AND NOT undo_action
	ORDER BY id DESC LIMIT 1
), FALSE)`

// DwellTimeIncreased reports whether placing at (x, y) covers another user's live pixel.
func (s *Store) DwellTimeIncreased(ctx context.Context, userID string, x, y int) (bool, error) {
	var increased bool
	if err := s.exec.QueryRow(ctx, dwellQuery, userID, x, y).Scan(&increased); err != nil {
		return false, fmt.Errorf("query dwell time: %w", err)
	}
	return increased, nil
}

// InsertAdminLog appends a moderation log line attributed to actorID.
func (s *Store) InsertAdminLog(ctx context.Context, actorID, text string) error {
	stmt, args, err := s.builder.Insert("admin_log").
		Columns("actor_id", "message").
		Values(actorID, text).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert admin log sql: %w", err)
	}

	if _, err := s.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert admin log: %w", err)
	}
	return nil
}

// CountUserPlacements counts the user's live, non-moderation placements.
func (s *Store) CountUserPlacements(ctx context.Context, userID string) (int, error) {
	stmt, args, err := s.builder.Select("COUNT(*)").
		From("pixels").
		Where(sq.Eq{"who": userID, "undone": false, "undo_action": false, "mod_action": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count placements sql: %w", err)
	}

	var n int
	if err := s.exec.QueryRow(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count placements: %w", err)
	}
	return n, nil
}

const latestColorsQuery = `SELECT DISTINCT ON (x, y) x, y, color FROM pixels ORDER BY x, y, id DESC`

// LoadCanvas calls set with the current color of every cell that has history.
func (s *Store) LoadCanvas(ctx context.Context, set func(x, y, color int)) (int, error) {
	rows, err := s.exec.Query(ctx, latestColorsQuery)
	if err != nil {
		return 0, fmt.Errorf("query canvas: %w", err)
	}

	var x, y, color, n int
	if _, err := pgx.ForEachRow(rows, []any{&x, &y, &color}, func() error {
		set(x, y, color)
		n++
		return nil
	}); err != nil {
		return 0, fmt.Errorf("scan canvas: %w", err)
	}
	return n, nil
}

func scanPlacement(row pgx.Row) (*placement.Placement, error) {
	var (
		p         placement.Placement
		secondary pgtype.Int8
		placedAt  pgtype.Timestamptz
	)
	if err := row.Scan(&p.ID, &p.X, &p.Y, &p.Color, &p.PlacerID, &secondary, &placedAt, &p.ModAction, &p.UndoAction, &p.Undone); err != nil {
		return nil, err
	}
	if secondary.Valid {
		p.SecondaryID = secondary.Int64
	}
	if placedAt.Valid {
		p.At = placedAt.Time
	}
	return &p, nil
}

func nullableID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}
