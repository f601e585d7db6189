package collab

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/identity"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote"
)

func TestInitialize_RejectsZeroWorkspace(t *testing.T) {
	c := newTestClient(t, nil, quietConfig())
	_, err := c.Initialize(context.Background(), identity.Static("alice"), 0)
	require.ErrorIs(t, err, errs.ErrInvalidWorkspace)
	_, ok := c.Session()
	assert.False(t, ok)
}

func TestInitialize_MalformedIdentityRunsAnonymously(t *testing.T) {
	rem := newFakeRemote()
	c := newTestClient(t, connectorFor(rem, nil, nil), quietConfig())

	s, err := c.Initialize(context.Background(), nil, 7)
	require.NoError(t, err)
	assert.Equal(t, identity.Anonymous, s.IdentityHandle)
	assert.True(t, s.Active)
	assert.False(t, s.LocalOnly)
	assert.True(t, c.IsCollaborating())
}

func TestInitialize_FailOpenWhenRemoteUnavailable(t *testing.T) {
	c := newTestClient(t, failingConnector(), quietConfig())
	s, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	assert.True(t, s.LocalOnly)
	require.NoError(t, c.Enqueue(1, []byte("offline edit"), model.OpUpdate))
}

func TestInitialize_ProbeFailureKeepsChannel(t *testing.T) {
	rem := newFakeRemote()
	rem.listErr = errs.ErrRemoteUnavailable
	c := newTestClient(t, connectorFor(rem, nil, nil), quietConfig())
	s, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	assert.False(t, s.LocalOnly)
	assert.Equal(t, 1, rem.listCount())
}

func TestInitialize_LocalOnlyReconnectsOnGeneralCycle(t *testing.T) {
	rem := newFakeRemote()
	var fail atomic.Bool
	fail.Store(true)
	conn := remote.ConnectorFunc(func(context.Context, remote.Principal) (remote.Remote, error) {
		if fail.Load() {
			return nil, errUnreachable
		}
		return rem, nil
	})
	cfg := quietConfig()
	cfg.GeneralPoll = 20 * time.Millisecond
	c := newTestClient(t, conn, cfg)
	s, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	require.True(t, s.LocalOnly)
	require.NoError(t, c.Enqueue(1, []byte("queued while offline"), model.OpSave))

	fail.Store(false)
	require.Eventually(t, func() bool {
		s, _ := c.Session()
		return !s.LocalOnly && c.PendingCount() == 0
	}, waitFor, tick)
	assert.Equal(t, []string{"queued while offline"}, rem.savedContents(1))
}

func TestInitialize_SameWorkspaceIsReused(t *testing.T) {
	rem := newFakeRemote()
	var (
		mu       sync.Mutex
		connects int
	)
	c := newTestClient(t, connectorFor(rem, &connects, &mu), quietConfig())

	s1, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	s2, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)

	mu.Lock()
	assert.Equal(t, 1, connects)
	mu.Unlock()
	assert.Len(t, rem.announced, 1)
	assert.Equal(t, "alice", rem.announced[0].RemoteUserID)
}

func TestInitialize_OtherWorkspaceTearsDownFirst(t *testing.T) {
	first, second := newFakeRemote(), newFakeRemote()
	remotes := []*fakeRemote{first, second}
	var n atomic.Int32
	conn := remote.ConnectorFunc(func(context.Context, remote.Principal) (remote.Remote, error) {
		return remotes[n.Add(1)-1], nil
	})
	cfg := quietConfig()
	cfg.Debounce = time.Hour
	c := newTestClient(t, conn, cfg)

	s1, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(1, []byte("x"), model.OpUpdate))
	c.UpsertCollaborator(model.CollaboratorRecord{RemoteUserID: "u1"})

	s2, err := c.Initialize(context.Background(), identity.Static("alice"), 8)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, model.WorkspaceID(8), s2.WorkspaceID)

	first.mu.Lock()
	assert.True(t, first.closed)
	assert.Equal(t, []string{"alice"}, first.withdrawn)
	first.mu.Unlock()

	assert.Equal(t, 0, c.PendingCount())
	assert.Empty(t, c.ActiveCollaborators())
	assert.Empty(t, first.savedContents(1))
}

func TestCleanup_Idempotent(t *testing.T) {
	rem := newFakeRemote()
	clk := newTestClock()
	c := newTestClient(t, connectorFor(rem, nil, nil), quietConfig(), WithClock(clk))
	_, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(1, []byte("x"), model.OpUpdate))
	c.UpsertCursor(model.CursorRecord{RemoteUserID: "u1"})

	c.Cleanup()
	c.Cleanup()

	_, ok := c.Session()
	assert.False(t, ok)
	assert.False(t, c.IsCollaborating())
	assert.Equal(t, 0, c.PendingCount())
	assert.Empty(t, c.CursorPositions())
	assert.Empty(t, c.ActiveCollaborators())

	// the debounce and poll timers were stopped, not merely ignored
	advance(t, clk, time.Hour, 0)
	assert.Empty(t, rem.savedContents(1))
}

func TestCleanup_NoPollAfterReturn(t *testing.T) {
	rem := newFakeRemote()
	rem.setFile(1, "v1", "bob")
	rem.setCollaborators(model.CollaboratorRecord{RemoteUserID: "bob", IsActive: true})
	clk := newTestClock()
	cfg := quietConfig()
	cfg.GeneralPoll = 10 * time.Millisecond
	cfg.ActivePoll = 10 * time.Millisecond
	cfg.PresencePoll = 10 * time.Millisecond
	c := newTestClient(t, connectorFor(rem, nil, nil), cfg, WithClock(clk))

	var fired atomic.Int32
	c.SetFileContentUpdateCallback(func(model.FileID, []byte, string) { fired.Add(1) })
	c.SetUserJoinCallback(func(model.CollaboratorRecord) { fired.Add(1) })

	_, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	advance(t, clk, cfg.GeneralPoll, pollTimers)
	require.Eventually(t, func() bool { return fired.Load() >= 2 }, waitFor, tick)

	c.Cleanup()
	lists := rem.listCount()
	before := fired.Load()

	rem.setFile(1, "v2", "bob")
	rem.setCollaborators(model.CollaboratorRecord{RemoteUserID: "carol", IsActive: true})
	// no loop is left waiting on the clock
	advance(t, clk, time.Hour, 0)

	assert.Equal(t, before, fired.Load())
	assert.Equal(t, lists, rem.listCount())
}

func TestCleanup_FromInsideCallback(t *testing.T) {
	rem := newFakeRemote()
	rem.setFile(1, "hello", "bob")
	cfg := quietConfig()
	cfg.GeneralPoll = 10 * time.Millisecond
	c := New(connectorFor(rem, nil, nil), cfg, WithLogger(zap.NewNop()))

	done := make(chan struct{})
	c.SetFileContentUpdateCallback(func(model.FileID, []byte, string) {
		c.Cleanup()
		close(done)
	})
	_, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("cleanup from callback deadlocked")
	}
	_, ok := c.Session()
	assert.False(t, ok)
	c.Cleanup()
}

func TestSuspend_KeepsJournal(t *testing.T) {
	rem := newFakeRemote()
	rem.saveHook = func(saveCall, int) error { return errs.ErrRemoteUnavailable }
	j := newFakeJournal()
	clk := newTestClock()
	c := newTestClient(t, connectorFor(rem, nil, nil), quietConfig(), WithJournal(j), WithClock(clk))
	_, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)

	require.NoError(t, c.Enqueue(1, []byte("unsent"), model.OpUpdate))
	require.Error(t, c.Flush(context.Background()))

	c.Suspend()
	_, ok := c.Session()
	assert.False(t, ok)
	assert.Empty(t, j.purged)
	ch, ok := j.has(1)
	require.True(t, ok)
	assert.Equal(t, "unsent", string(ch.Content))
	// every loop is gone, so nothing can touch the journal after this
	advance(t, clk, time.Hour, 0)

	rem.mu.Lock()
	rem.saveHook = nil
	rem.mu.Unlock()
	_, err = c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, c.PendingCount())
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, "unsent", rem.savedContents(1)[len(rem.savedContents(1))-1])
}

func TestSendCursorMove(t *testing.T) {
	rem := newFakeRemote()
	c := newTestClient(t, connectorFor(rem, nil, nil), quietConfig())
	require.ErrorIs(t, c.SendCursorMove(context.Background(), model.CursorRecord{}), errs.ErrNotInitialized)

	_, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	require.NoError(t, c.SendCursorMove(context.Background(), model.CursorRecord{
		RemoteUserID: "spoofed", FileID: 2, Line: 3, Column: 4,
		Selection: &model.Range{StartLine: 3, EndLine: 3, EndColumn: 9},
	}))

	rem.mu.Lock()
	defer rem.mu.Unlock()
	require.Len(t, rem.cursorPut, 1)
	assert.Equal(t, "alice", rem.cursorPut[0].RemoteUserID)
	assert.Equal(t, 3, rem.cursorPut[0].Line)
	assert.NotNil(t, rem.cursorPut[0].Selection)
}

func TestSendCursorMove_LocalOnly(t *testing.T) {
	c := newTestClient(t, failingConnector(), quietConfig())
	_, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	require.ErrorIs(t, c.SendCursorMove(context.Background(), model.CursorRecord{Line: 1}), errs.ErrLocalOnly)
}

func TestSetCollaborating(t *testing.T) {
	c := newTestClient(t, nil, quietConfig())
	c.SetCollaborating(true)
	assert.False(t, c.IsCollaborating(), "no session, nothing to toggle")

	_, err := c.Initialize(context.Background(), identity.Static("alice"), 7)
	require.NoError(t, err)
	assert.True(t, c.IsCollaborating())
	c.SetCollaborating(false)
	assert.False(t, c.IsCollaborating())
}
