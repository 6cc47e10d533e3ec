package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newStores(t *testing.T, limits Limits) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "memory.json"), limits, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return map[string]Store{
		"inmemory": NewInMemoryStore(limits),
		"file":     fs,
	}
}

func TestRecordTurnRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t, DefaultLimits()) {
		t.Run(name, func(t *testing.T) {
			for _, tc := range []Turn{
				{User: "hello", Assistant: "hi there"},
				{User: "", Assistant: ""},
				{User: "unicode ✓ \"quoted\"\nnewline", Assistant: "⚠ Error: x"},
			} {
				if err := store.RecordTurn(ctx, tc.User, tc.Assistant); err != nil {
					t.Fatalf("RecordTurn() error = %v", err)
				}
				mctx, err := store.Context(ctx)
				if err != nil {
					t.Fatalf("Context() error = %v", err)
				}
				last := mctx.Turns[len(mctx.Turns)-1]
				if last != tc {
					t.Fatalf("last turn = %+v, want %+v", last, tc)
				}
			}
		})
	}
}

func TestTruncationKeepsMostRecentInOrder(t *testing.T) {
	ctx := context.Background()
	limits := DefaultLimits()
	for name, store := range newStores(t, limits) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 73; i++ {
				if err := store.RecordTurn(ctx, fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i)); err != nil {
					t.Fatalf("RecordTurn() error = %v", err)
				}
			}
			for i := 0; i < 31; i++ {
				if err := store.RecordQuery(ctx, fmt.Sprintf("SELECT %d FROM t;", i), "ok"); err != nil {
					t.Fatalf("RecordQuery() error = %v", err)
				}
			}
			mctx, _ := store.Context(ctx)
			if len(mctx.Turns) != limits.ContextTurns {
				t.Fatalf("len(Turns) = %d, want %d", len(mctx.Turns), limits.ContextTurns)
			}
			for i, turn := range mctx.Turns {
				want := fmt.Sprintf("u%d", 73-limits.ContextTurns+i)
				if turn.User != want {
					t.Fatalf("Turns[%d].User = %q, want %q", i, turn.User, want)
				}
			}
			if len(mctx.Queries) != limits.ContextQueries {
				t.Fatalf("len(Queries) = %d, want %d", len(mctx.Queries), limits.ContextQueries)
			}
			last, ok := mctx.LastQuery()
			if !ok || last.Statement != "SELECT 30 FROM t;" {
				t.Fatalf("LastQuery() = %+v, %v, want SELECT 30", last, ok)
			}
		})
	}
}

func TestFileStorePersistsBoundedDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "memory.json")
	store, err := NewFileStore(path, DefaultLimits(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	for i := 0; i < 60; i++ {
		if err := store.RecordTurn(ctx, fmt.Sprintf("u%d", i), "a"); err != nil {
			t.Fatalf("RecordTurn() error = %v", err)
		}
	}
	for i := 0; i < 25; i++ {
		if err := store.RecordQuery(ctx, fmt.Sprintf("q%d", i), "r"); err != nil {
			t.Fatalf("RecordQuery() error = %v", err)
		}
	}
	if err := store.SetPersonalInfo(ctx, "name", " Ada "); err != nil {
		t.Fatalf("SetPersonalInfo() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(doc.Conversations) != 50 || doc.Conversations[0].User != "u10" || doc.Conversations[49].User != "u59" {
		t.Fatalf("persisted conversations = %d (first %q), want 50 starting at u10", len(doc.Conversations), doc.Conversations[0].User)
	}
	if len(doc.Queries) != 20 || doc.Queries[0].Statement != "q5" {
		t.Fatalf("persisted queries = %d (first %q), want 20 starting at q5", len(doc.Queries), doc.Queries[0].Statement)
	}
	if doc.PersonalInfo["name"] != "Ada" {
		t.Fatalf("personal_info[name] = %q, want Ada", doc.PersonalInfo["name"])
	}

	reopened, err := NewFileStore(path, DefaultLimits(), zap.NewNop())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	mctx, _ := reopened.Context(ctx)
	if mctx.Turns[len(mctx.Turns)-1].User != "u59" {
		t.Fatalf("reopened last turn = %q, want u59", mctx.Turns[len(mctx.Turns)-1].User)
	}
	if mctx.PersonalInfo["name"] != "Ada" {
		t.Fatalf("reopened personal info = %v", mctx.PersonalInfo)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestFileStoreRecoversFromCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.json")
	if err := os.WriteFile(path, []byte(`{"conversations": [ {"user": "trunc`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	store, err := NewFileStore(path, DefaultLimits(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	mctx, _ := store.Context(context.Background())
	if len(mctx.Turns) != 0 || len(mctx.Queries) != 0 {
		t.Fatalf("corrupted store context = %+v, want empty", mctx)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("fresh store not written: %v", err)
	}
	if !json.Valid(raw) {
		t.Fatalf("fresh store is not valid JSON: %s", raw)
	}
	aside, _ := filepath.Glob(path + ".corrupt-*")
	if len(aside) != 1 {
		t.Fatalf("corrupted file copies = %v, want one", aside)
	}
}

func TestFileStoreReportsPersistenceFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	store, err := NewFileStore(filepath.Join(blocker, "memory.json"), DefaultLimits(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	err = store.RecordTurn(context.Background(), "u", "a")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("RecordTurn() error = %v, want ErrPersistence", err)
	}
	mctx, _ := store.Context(context.Background())
	if len(mctx.Turns) != 1 {
		t.Fatalf("in-memory turns = %d, want 1 despite write failure", len(mctx.Turns))
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	s, err := NewStore("  ", DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("NewStore(blank) error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(blank) = %T, want *InMemoryStore", s)
	}
	path := filepath.Join(t.TempDir(), "m.json")
	s, err = NewStore(path, DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("NewStore(path) error = %v", err)
	}
	fs, ok := s.(*FileStore)
	if !ok || !strings.HasSuffix(fs.Path(), "m.json") {
		t.Fatalf("NewStore(path) = %T, want *FileStore", s)
	}
}

func TestDirOpenerKeepsOneFilePerSession(t *testing.T) {
	dir := t.TempDir()
	open := DirOpener(dir, DefaultLimits(), nil)
	a, err := open("alpha")
	if err != nil {
		t.Fatalf("open(alpha) error = %v", err)
	}
	fs, ok := a.(*FileStore)
	if !ok {
		t.Fatalf("open(alpha) = %T, want *FileStore", a)
	}
	if want := filepath.Join(dir, "alpha.json"); fs.Path() != want {
		t.Fatalf("Path() = %q, want %q", fs.Path(), want)
	}

	b, err := DirOpener("", DefaultLimits(), nil)("beta")
	if err != nil {
		t.Fatalf("open(beta) error = %v", err)
	}
	if _, ok := b.(*InMemoryStore); !ok {
		t.Fatalf("open(beta) without dir = %T, want *InMemoryStore", b)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	url := os.Getenv("LIA_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LIA_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatalf("OpenPostgres() error = %v", err)
	}
	defer db.Close()

	limits := Limits{MaxTurns: 2, MaxQueries: 2, ContextTurns: 2, ContextQueries: 2}
	store, err := db.Opener(limits)("pg-" + strings.ReplaceAll(t.Name(), "/", "-") + "-" + strconv.FormatInt(time.Now().UnixNano(), 10))
	if err != nil {
		t.Fatalf("Opener() error = %v", err)
	}
	for _, u := range []string{"one", "two", "three"} {
		if err := store.RecordTurn(ctx, u, "ok"); err != nil {
			t.Fatalf("RecordTurn(%s) error = %v", u, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := store.RecordQuery(ctx, "SELECT 1;", "1 rows"); err != nil {
		t.Fatalf("RecordQuery() error = %v", err)
	}
	if err := store.SetPersonalInfo(ctx, "hobby", "chess"); err != nil {
		t.Fatalf("SetPersonalInfo() error = %v", err)
	}

	mctx, err := store.Context(ctx)
	if err != nil {
		t.Fatalf("Context() error = %v", err)
	}
	if len(mctx.Turns) != 2 || mctx.Turns[0].User != "two" || mctx.Turns[1].User != "three" {
		t.Fatalf("Turns = %+v, want [two three]", mctx.Turns)
	}
	if q, ok := mctx.LastQuery(); !ok || q.Statement != "SELECT 1;" {
		t.Fatalf("LastQuery() = %+v, %v", q, ok)
	}
	if mctx.PersonalInfo["hobby"] != "chess" {
		t.Fatalf("PersonalInfo = %v", mctx.PersonalInfo)
	}
}
