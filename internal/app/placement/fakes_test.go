package placement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pxplace/internal/app/user"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type cell struct{ x, y int }

type fakeBoard struct {
	mu        sync.Mutex
	pixels    map[cell]int
	locked    map[cell]bool
	def       int
	setCalled int
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{pixels: make(map[cell]int), locked: make(map[cell]bool)}
}

func (b *fakeBoard) Pixel(x, y int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.pixels[cell{x, y}]; ok {
		return c
	}
	return b.def
}

func (b *fakeBoard) SetPixel(x, y, color int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pixels[cell{x, y}] = color
	b.setCalled++
}

func (b *fakeBoard) Editable(x, y int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.locked[cell{x, y}]
}

func (b *fakeBoard) DefaultColor(x, y int) int {
	return b.def
}

func (b *fakeBoard) writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setCalled
}

type fakeStore struct {
	mu         sync.Mutex
	records    []Placement
	cooldowns  map[string]int
	adminLog   []string
	dwell      bool
	failInsert error

	// beforeUndoLookup runs at the start of UserUndoRecord, outside the lock.
	beforeUndoLookup func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{cooldowns: make(map[string]int)}
}

func (s *fakeStore) InsertPlacement(_ context.Context, p Placement) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert != nil {
		return 0, s.failInsert
	}
	p.ID = int64(len(s.records) + 1)
	s.records = append(s.records, p)
	return p.ID, nil
}

func (s *fakeStore) PlacementByID(_ context.Context, id int64) (*Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			p := s.records[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) LatestPlacementAt(_ context.Context, x, y int) (*Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].X == x && s.records[i].Y == y {
			p := s.records[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UserUndoRecord(_ context.Context, userID string) (*Placement, error) {
	if s.beforeUndoLookup != nil {
		s.beforeUndoLookup()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.PlacerID == userID && !r.UndoAction && !r.Undone {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) RecordUndo(_ context.Context, undone Placement, restore Placement) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == undone.ID {
			s.records[i].Undone = true
		}
	}
	restore.ID = int64(len(s.records) + 1)
	s.records = append(s.records, restore)
	return restore.ID, nil
}

func (s *fakeStore) UpdateUserCooldown(_ context.Context, userID string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[userID] = seconds
	return nil
}

func (s *fakeStore) DwellTimeIncreased(context.Context, string, int, int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dwell, nil
}

func (s *fakeStore) InsertAdminLog(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminLog = append(s.adminLog, text)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type frame struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []frame
	fail   bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	if c.fail {
		return errors.New("send buffer full")
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) count(typ MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.Type == typ {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(typ MessageType, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Type == typ {
			return json.Unmarshal(c.frames[i].Payload, v) == nil
		}
	}
	return false
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

type fakeSessions struct {
	mu      sync.Mutex
	conns   map[string][]Conn
	users   map[string]*user.User
	nonIdle int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{conns: make(map[string][]Conn), users: make(map[string]*user.User)}
}

func (s *fakeSessions) attach(u *user.User, id string) *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &fakeConn{id: id}
	s.conns[u.ID] = append(s.conns[u.ID], c)
	s.users[u.Name] = u
	return c
}

func (s *fakeSessions) ConnectionsOf(userID string) []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Conn(nil), s.conns[userID]...)
}

func (s *fakeSessions) Connections() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Conn
	for _, cs := range s.conns {
		all = append(all, cs...)
	}
	return all
}

func (s *fakeSessions) LiveConnectionCount() int {
	return len(s.Connections())
}

func (s *fakeSessions) NonIdleUserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonIdle
}

func (s *fakeSessions) UserByName(name string) *user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[name]
}

type fakeVerifier struct {
	ok  bool
	err error
}

func (v fakeVerifier) Verify(context.Context, string, string) (bool, error) {
	return v.ok, v.err
}

type harness struct {
	engine   *Engine
	board    *fakeBoard
	store    *fakeStore
	sessions *fakeSessions
	clock    *fakeClock
}

func testConfig() Config {
	return Config{
		Width:           10,
		Height:          10,
		PaletteSize:     16,
		Cooldown:        CooldownPolicy{Mode: CooldownStatic, Static: 30 * time.Second},
		BackgroundPixel: BackgroundPixelPolicy{Multiplier: 2},
		UndoWindow:      5 * time.Second,
		MaxStacked:      3,
		SubscriberBonus: 2,
	}
}

func newHarness(cfg Config, verifier CaptchaVerifier) *harness {
	h := &harness{
		board:    newFakeBoard(),
		store:    newFakeStore(),
		sessions: newFakeSessions(),
		clock:    &fakeClock{now: t0},
	}
	deps := Deps{Board: h.board, Store: h.store, Sessions: h.sessions}
	if verifier != nil {
		deps.Captcha = verifier
	}
	h.engine = NewEngine(cfg, deps).WithClock(h.clock.Now).WithRandom(func() float64 { return 1 })
	return h
}

func (h *harness) newUser(id, name string, subscribed bool) (*user.User, *fakeConn) {
	u := user.New(user.Profile{ID: id, Name: name, Subscribed: subscribed}, rate.Inf, 0)
	return u, h.sessions.attach(u, "conn-"+id)
}
