package db

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"pxplace/internal/app/placement"
)

var placedAt = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	return mock, NewStore(mock)
}

func placementRows() *pgxmock.Rows {
	return pgxmock.NewRows(placementColumns)
}

func TestStore_InsertPlacement(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO pixels \(x,y,color,who,secondary_id,placed_at,mod_action,undo_action\) VALUES .+ RETURNING id`).
		WithArgs(3, 4, 7, "u-1", pgxmock.AnyArg(), placedAt, false, false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := store.InsertPlacement(context.Background(), placement.Placement{
		X: 3, Y: 4, Color: 7, PlacerID: "u-1", At: placedAt,
	})
	if err != nil {
		t.Fatalf("InsertPlacement returned error: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected id 42, got %d", id)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_LatestPlacementAt(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT id, x, y, color, who, secondary_id, placed_at, mod_action, undo_action, undone FROM pixels WHERE x = \$1 AND y = \$2 ORDER BY id DESC LIMIT 1`).
		WithArgs(3, 4).
		WillReturnRows(placementRows().AddRow(int64(9), 3, 4, 7, "u-1", int64(5), placedAt, false, false, false))

	p, err := store.LatestPlacementAt(context.Background(), 3, 4)
	if err != nil {
		t.Fatalf("LatestPlacementAt returned error: %v", err)
	}
	if p == nil || p.ID != 9 || p.SecondaryID != 5 || p.Color != 7 || !p.At.Equal(placedAt) {
		t.Fatalf("unexpected placement: %+v", p)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_LookupMissReturnsNil(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`FROM pixels WHERE id = \$1 LIMIT 1`).
		WithArgs(int64(404)).
		WillReturnRows(placementRows())

	p, err := store.PlacementByID(context.Background(), 404)
	if err != nil {
		t.Fatalf("expected no error on a miss, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil placement, got %+v", p)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_UserUndoRecord(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`FROM pixels WHERE undo_action = \$1 AND undone = \$2 AND who = \$3 ORDER BY id DESC LIMIT 1`).
		WithArgs(false, false, "u-1").
		WillReturnRows(placementRows().AddRow(int64(11), 1, 2, 3, "u-1", nil, placedAt, false, false, false))

	p, err := store.UserUndoRecord(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("UserUndoRecord returned error: %v", err)
	}
	if p == nil || p.ID != 11 || p.SecondaryID != 0 {
		t.Fatalf("unexpected placement: %+v", p)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_RecordUndoCommits(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pixels SET undone = \$1 WHERE id = \$2 AND undone = \$3`).
		WithArgs(true, int64(11), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO pixels`).
		WithArgs(1, 2, 0, "u-1", pgxmock.AnyArg(), placedAt, false, true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectCommit()

	id, err := store.RecordUndo(context.Background(),
		placement.Placement{ID: 11, X: 1, Y: 2, Color: 3, PlacerID: "u-1"},
		placement.Placement{X: 1, Y: 2, Color: 0, PlacerID: "u-1", At: placedAt, SecondaryID: 11, UndoAction: true},
	)
	if err != nil {
		t.Fatalf("RecordUndo returned error: %v", err)
	}
	if id != 12 {
		t.Fatalf("expected restoration id 12, got %d", id)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_RecordUndoRollsBackAlreadyUndone(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pixels SET undone`).
		WithArgs(true, int64(11), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := store.RecordUndo(context.Background(), placement.Placement{ID: 11}, placement.Placement{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_UpdateUserCooldown(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec(`INSERT INTO user_cooldowns .+ ON CONFLICT \(user_id\) DO UPDATE`).
		WithArgs("u-1", 30).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.UpdateUserCooldown(context.Background(), "u-1", 30); err != nil {
		t.Fatalf("UpdateUserCooldown returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_DwellTimeIncreased(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs("u-1", 3, 4).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(true))

	increased, err := store.DwellTimeIncreased(context.Background(), "u-1", 3, 4)
	if err != nil {
		t.Fatalf("DwellTimeIncreased returned error: %v", err)
	}
	if !increased {
		t.Fatalf("expected the signal to be set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_InsertAdminLogWrapsErrors(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec(`INSERT INTO admin_log \(actor_id,message\) VALUES \(\$1,\$2\)`).
		WithArgs("u-1", "permaban alice").
		WillReturnError(errors.New("connection refused"))

	err := store.InsertAdminLog(context.Background(), "u-1", "permaban alice")
	if err == nil {
		t.Fatalf("expected an error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_LoadCanvas(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT DISTINCT ON \(x, y\) x, y, color FROM pixels`).
		WillReturnRows(pgxmock.NewRows([]string{"x", "y", "color"}).
			AddRow(0, 0, 4).
			AddRow(2, 1, 9))

	got := map[[2]int]int{}
	n, err := store.LoadCanvas(context.Background(), func(x, y, color int) {
		got[[2]int{x, y}] = color
	})
	if err != nil {
		t.Fatalf("LoadCanvas returned error: %v", err)
	}
	if n != 2 || got[[2]int{0, 0}] != 4 || got[[2]int{2, 1}] != 9 {
		t.Fatalf("unexpected canvas load: n=%d %v", n, got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStore_CountUserPlacements(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pixels WHERE mod_action = \$1 AND undo_action = \$2 AND undone = \$3 AND who = \$4`).
		WithArgs(false, false, false, "u-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(17))

	n, err := store.CountUserPlacements(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("CountUserPlacements returned error: %v", err)
	}
	if n != 17 {
		t.Fatalf("expected 17, got %d", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
