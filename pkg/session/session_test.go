package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sscollege/helpdesk/pkg/config"
)

func newSQLiteService(t *testing.T) Service {
	t.Helper()
	pool := config.NewDBPool()
	t.Cleanup(func() { pool.Close() })

	svc, err := NewFromURL("sqlite:///:memory:", pool)
	require.NoError(t, err)
	require.IsType(t, &SQLService{}, svc)
	return svc
}

// services runs fn against every Service implementation.
func services(t *testing.T, fn func(t *testing.T, svc Service)) {
	t.Run("memory", func(t *testing.T) { fn(t, InMemoryService()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteService(t)) })
}

func textEvent(author, role, text string) *Event {
	return &Event{
		Author:  author,
		Content: &Content{Role: role, Parts: []Part{{Text: text}}},
	}
}

func TestService_CreateGetDelete(t *testing.T) {
	services(t, func(t *testing.T, svc Service) {
		ctx := context.Background()

		created, err := svc.Create(ctx, &CreateRequest{
			AppName: "college_agent",
			UserID:  "u1",
			State:   map[string]any{"student_name": "Amina"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "Amina", created.State["student_name"])
		assert.NotNil(t, created.Events)

		got, err := svc.Get(ctx, &GetRequest{AppName: "college_agent", UserID: "u1", SessionID: created.ID})
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, "Amina", got.State["student_name"])

		_, err = svc.Create(ctx, &CreateRequest{AppName: "college_agent", UserID: "u1", SessionID: created.ID})
		assert.ErrorIs(t, err, ErrSessionExists)

		require.NoError(t, svc.Delete(ctx, &DeleteRequest{AppName: "college_agent", UserID: "u1", SessionID: created.ID}))
		_, err = svc.Get(ctx, &GetRequest{AppName: "college_agent", UserID: "u1", SessionID: created.ID})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestService_AppendEvent(t *testing.T) {
	services(t, func(t *testing.T, svc Service) {
		ctx := context.Background()

		sess, err := svc.Create(ctx, &CreateRequest{AppName: "college_agent", UserID: "u1", SessionID: "s1"})
		require.NoError(t, err)

		require.NoError(t, svc.AppendEvent(ctx, sess, textEvent("user", "user", "When do admissions open?")))

		reply := textEvent("college_agent", "model", "Admissions open in June.")
		reply.Citations = []Citation{{Title: "ssragcorpus.pdf", URI: "gs://bucket/ssragcorpus.pdf"}}
		reply.StateDelta = map[string]any{"last_topic": "admissions", "temp:scratch": "x"}
		require.NoError(t, svc.AppendEvent(ctx, sess, reply))

		assert.Len(t, sess.Events, 2)
		assert.Equal(t, "admissions", sess.State["last_topic"])
		assert.NotContains(t, sess.State, "temp:scratch")
		assert.NotEmpty(t, reply.ID)

		got, err := svc.Get(ctx, &GetRequest{AppName: "college_agent", UserID: "u1", SessionID: "s1"})
		require.NoError(t, err)
		require.Len(t, got.Events, 2)
		assert.Equal(t, "user", got.Events[0].Author)
		assert.Equal(t, "When do admissions open?", got.Events[0].Content.Text())
		assert.Equal(t, "Admissions open in June.", got.Events[1].Content.Text())
		assert.Equal(t, []Citation{{Title: "ssragcorpus.pdf", URI: "gs://bucket/ssragcorpus.pdf"}}, got.Events[1].Citations)
		assert.Equal(t, "admissions", got.State["last_topic"])
		assert.NotContains(t, got.State, "temp:scratch")

		recent, err := svc.Get(ctx, &GetRequest{AppName: "college_agent", UserID: "u1", SessionID: "s1", NumRecentEvents: 1})
		require.NoError(t, err)
		require.Len(t, recent.Events, 1)
		assert.Equal(t, "college_agent", recent.Events[0].Author)
	})
}

func TestSQLService_ConcurrentAppendsGetDistinctSequence(t *testing.T) {
	svc := newSQLiteService(t).(*SQLService)
	ctx := context.Background()
	_, err := svc.Create(ctx, &CreateRequest{AppName: "college_agent", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := &Session{AppName: "college_agent", UserID: "u1", ID: "s1", State: map[string]any{}}
			errs <- svc.AppendEvent(ctx, sess, textEvent("user", "user", fmt.Sprintf("question %d", i)))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := svc.db.QueryContext(ctx, `SELECT sequence_num FROM session_events WHERE session_id = 's1' ORDER BY sequence_num`)
	require.NoError(t, err)
	defer rows.Close()
	var seqs []int
	for rows.Next() {
		var n int
		require.NoError(t, rows.Scan(&n))
		seqs = append(seqs, n)
	}
	require.NoError(t, rows.Err())
	require.Len(t, seqs, writers)
	for i, n := range seqs {
		assert.Equal(t, i+1, n)
	}

	_, err = svc.db.ExecContext(ctx, `INSERT INTO session_events (id, app_name, user_id, session_id, sequence_num, created_at)
		VALUES ('dup', 'college_agent', 'u1', 's1', 1, CURRENT_TIMESTAMP)`)
	assert.Error(t, err, "sequence numbers are unique per session")
}

func TestSQLService_ForUpdate(t *testing.T) {
	assert.Empty(t, (&SQLService{dialect: "sqlite"}).forUpdate())
	assert.Equal(t, " FOR UPDATE", (&SQLService{dialect: "postgres"}).forUpdate())
	assert.Equal(t, " FOR UPDATE", (&SQLService{dialect: "mysql"}).forUpdate())
	assert.Contains(t, (&SQLService{dialect: "postgres"}).q(`SELECT 1 FROM sessions WHERE id = ?`+" FOR UPDATE"), "$1 FOR UPDATE")
}

func TestService_AppendEventUnknownSession(t *testing.T) {
	services(t, func(t *testing.T, svc Service) {
		err := svc.AppendEvent(context.Background(), &Session{AppName: "a", UserID: "u", ID: "nope"}, textEvent("user", "user", "hi"))
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestService_ScopedState(t *testing.T) {
	services(t, func(t *testing.T, svc Service) {
		ctx := context.Background()

		first, err := svc.Create(ctx, &CreateRequest{
			AppName: "college_agent",
			UserID:  "u1",
			State: map[string]any{
				"app:academic_year": "2025-26",
				"user:programme":    "BSc Physics",
				"draft":             true,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "2025-26", first.State["app:academic_year"])

		// Another user sees app state but not user state.
		other, err := svc.Create(ctx, &CreateRequest{AppName: "college_agent", UserID: "u2"})
		require.NoError(t, err)
		assert.Equal(t, "2025-26", other.State["app:academic_year"])
		assert.NotContains(t, other.State, "user:programme")
		assert.NotContains(t, other.State, "draft")

		// A second session of the same user sees user state.
		second, err := svc.Create(ctx, &CreateRequest{AppName: "college_agent", UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, "BSc Physics", second.State["user:programme"])
		assert.NotContains(t, second.State, "draft")
	})
}

func TestService_List(t *testing.T) {
	services(t, func(t *testing.T, svc Service) {
		ctx := context.Background()
		for _, req := range []*CreateRequest{
			{AppName: "college_agent", UserID: "u1", SessionID: "a"},
			{AppName: "college_agent", UserID: "u1", SessionID: "b"},
			{AppName: "college_agent", UserID: "u2", SessionID: "c"},
			{AppName: "other_agent", UserID: "u1", SessionID: "d"},
		} {
			_, err := svc.Create(ctx, req)
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
		}

		list, err := svc.List(ctx, &ListRequest{AppName: "college_agent", UserID: "u1"})
		require.NoError(t, err)
		var ids []string
		for _, s := range list {
			ids = append(ids, s.ID)
			assert.Empty(t, s.Events)
		}
		assert.ElementsMatch(t, []string{"a", "b"}, ids)

		all, err := svc.List(ctx, &ListRequest{AppName: "college_agent"})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestNewFromURL(t *testing.T) {
	pool := config.NewDBPool()
	defer pool.Close()

	svc, err := NewFromURL("memory://", pool)
	require.NoError(t, err)
	assert.NotNil(t, svc)

	fileURL := "sqlite:///" + filepath.Join(t.TempDir(), "sessions.db")
	svc, err = NewFromURL(fileURL, pool)
	require.NoError(t, err)
	assert.IsType(t, &SQLService{}, svc)

	_, err = NewFromURL("redis://localhost", pool)
	assert.Error(t, err)

	_, err = NewFromURL("memory://", nil)
	assert.Error(t, err)
}

func TestConvertToPostgresPlaceholders(t *testing.T) {
	assert.Equal(t,
		"SELECT * FROM sessions WHERE app_name = $1 AND user_id = $2",
		convertToPostgresPlaceholders("SELECT * FROM sessions WHERE app_name = ? AND user_id = ?"))
}
