package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/agentbridge/internal/bridge"
	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/coordinator"
	"github.com/mattjoyce/agentbridge/internal/events"
	"github.com/mattjoyce/agentbridge/internal/journal"
	"github.com/mattjoyce/agentbridge/internal/storage"
	"github.com/mattjoyce/agentbridge/internal/worker"
)

func drain(ch <-chan events.Event, n int, t *testing.T) []events.Event {
	t.Helper()
	var got []events.Event
	for len(got) < n {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("got %d events, want %d", len(got), n)
		}
	}
	return got
}

func TestObserverPublishesLifecycle(t *testing.T) {
	hub := events.NewHub(16)
	sub, cancel := hub.Subscribe()
	defer cancel()

	obs := newObserver(nil, hub, discardLogger())
	req := coordinator.NewRequest("111", "hello")

	obs.RequestSubmitted(req)
	obs.RequestStarted(req)
	res := worker.Result{Status: worker.StatusFailed, Reason: "boom", ExitCode: 2, Duration: 1500 * time.Millisecond}
	obs.RequestCompleted(req, res)
	obs.ReplyDelivered(req, errors.New("not connected"))
	obs.MessageIgnored(bridge.InboundMessage{ConversationID: "status@broadcast", Channel: "whatsapp"})
	obs.ChannelState("whatsapp", "connected")

	got := drain(sub, 6, t)
	types := make([]string, 0, len(got))
	for _, ev := range got {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		events.TypeRequestSubmitted,
		events.TypeRequestStarted,
		events.TypeRequestCompleted,
		events.TypeReplyFailed,
		events.TypeMessageIgnored,
		events.TypeChannelStatus,
	}, types)

	var completed events.RequestPayload
	require.NoError(t, json.Unmarshal(got[2].Data, &completed))
	assert.Equal(t, req.ID, completed.RequestID)
	assert.Equal(t, "failed", completed.Status)
	assert.Equal(t, int64(1500), completed.DurationMS)
	assert.Equal(t, "boom", completed.Error)
	require.NotNil(t, completed.ExitCode)
	assert.Equal(t, 2, *completed.ExitCode)

	var failed events.RequestPayload
	require.NoError(t, json.Unmarshal(got[3].Data, &failed))
	assert.Equal(t, "not connected", failed.Error)
	assert.NotContains(t, string(got[0].Data), "hello", "message text must not be published")
}

func TestObserverTimeoutHasNoExitCode(t *testing.T) {
	hub := events.NewHub(16)
	sub, cancel := hub.Subscribe()
	defer cancel()

	obs := newObserver(nil, hub, discardLogger())
	obs.RequestCompleted(coordinator.NewRequest("111", "x"), worker.Failure(worker.StatusTimedOut, worker.ReasonTimeout))

	var p events.RequestPayload
	require.NoError(t, json.Unmarshal(drain(sub, 1, t)[0].Data, &p))
	assert.Nil(t, p.ExitCode)
	assert.Equal(t, worker.ReasonTimeout, p.Error)
}

func TestObserverWritesJournal(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	defer db.Close()
	j := journal.New(db)

	obs := newObserver(j, events.NewHub(16), discardLogger())
	req := coordinator.NewRequest("111", "hello")
	obs.RequestSubmitted(req)
	obs.RequestStarted(req)
	obs.RequestCompleted(req, worker.Success("hi"))
	obs.ReplyDelivered(req, nil)
	obs.Close()

	e, err := j.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusSucceeded, e.Status)
	assert.Equal(t, 5, e.TextLength)
	require.NotNil(t, e.ReplyStatus)
	assert.Equal(t, journal.ReplySent, *e.ReplyStatus)

	// Writes after Close are skipped.
	obs.ReplyDelivered(coordinator.NewRequest("222", "x"), nil)
}

func TestObserverMissingRowOnlyLogs(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	defer db.Close()

	obs := newObserver(journal.New(db), events.NewHub(16), discardLogger())
	obs.ReplyDelivered(coordinator.NewRequest("222", "x"), nil)
	obs.Close()
}

// slowJournal blocks every write until release is closed and records the
// order writes were applied in.
type slowJournal struct {
	release chan struct{}
	mu      sync.Mutex
	steps   []string
}

func (s *slowJournal) wait(step string) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	return nil
}

func (s *slowJournal) Submitted(context.Context, string, string, int, time.Time) error {
	return s.wait("submitted")
}

func (s *slowJournal) Started(context.Context, string, time.Time) error {
	return s.wait("started")
}

func (s *slowJournal) Completed(context.Context, string, worker.Result, time.Time) error {
	return s.wait("completed")
}

func (s *slowJournal) ReplyDelivered(context.Context, string, error, time.Time) error {
	return s.wait("reply")
}

func TestObserverJournalWritesDoNotBlockCallers(t *testing.T) {
	slow := &slowJournal{release: make(chan struct{})}
	obs := startObserver(slow, events.NewHub(16), discardLogger())
	req := coordinator.NewRequest("111", "hello")

	start := time.Now()
	obs.RequestSubmitted(req)
	obs.RequestStarted(req)
	obs.RequestCompleted(req, worker.Success("hi"))
	obs.ReplyDelivered(req, nil)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(slow.release)
	obs.Close()
	assert.Equal(t, []string{"submitted", "started", "completed", "reply"}, slow.steps)
}

func TestDispatcherHandleReturnsWhileJournalIsSlow(t *testing.T) {
	slow := &slowJournal{release: make(chan struct{})}
	obs := startObserver(slow, events.NewHub(16), discardLogger())
	coord := coordinator.New(fakeInvoker{}, coordinator.Options{MaxConcurrent: 1, Timeout: time.Second, Observer: obs})
	ch := newFakeChannel()
	d := bridge.NewDispatcher(coord, ch, bridge.Options{Observer: obs, Logger: discardLogger()})

	returned := make(chan struct{})
	go func() {
		d.Handle(bridge.InboundMessage{ConversationID: "111", Text: "hi"})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked on the journal")
	}

	close(slow.release)
	d.Wait()
	require.NoError(t, coord.Shutdown(context.Background()))
	obs.Close()
}

type fakeInvoker struct{}

func (fakeInvoker) Invoke(context.Context, string, string, time.Duration) worker.Result {
	return worker.Success("ok")
}

func TestNewContainerClosesJournalOnFailure(t *testing.T) {
	var opened *sql.DB
	orig := openSQLite
	openSQLite = func(ctx context.Context, path string) (*sql.DB, error) {
		db, err := orig(ctx, path)
		opened = db
		return db, err
	}
	t.Cleanup(func() { openSQLite = orig })

	cfg := config.Defaults()
	cfg.Agent.Command = "true"
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "j.db")
	cfg.WhatsApp.Enabled = false

	_, err := NewContainer(context.Background(), cfg, Options{Logger: discardLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whatsapp channel is disabled")
	require.NotNil(t, opened)
	assert.Error(t, opened.Ping(), "journal database must be closed")
}

func TestNewContainerOptionalComponents(t *testing.T) {
	cfg := config.Defaults()
	cfg.Agent.Command = "true"
	cfg.Agent.Args = nil

	c, err := NewContainer(context.Background(), cfg, Options{Channel: newFakeChannel(), Logger: discardLogger()})
	require.NoError(t, err)
	defer c.Close()
	assert.Nil(t, c.Journal())
	assert.Nil(t, c.scheduler)
	assert.Nil(t, c.api)
	assert.Equal(t, "fake", c.Channel().Name())
	assert.NotNil(t, c.Dispatcher())

	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "j.db")
	cfg.API.Enabled = true
	cfg.API.APIKey = "secret"
	c2, err := NewContainer(context.Background(), cfg, Options{Channel: newFakeChannel(), Logger: discardLogger()})
	require.NoError(t, err)
	defer c2.Close()
	assert.NotNil(t, c2.Journal())
	assert.NotNil(t, c2.scheduler)
	assert.NotNil(t, c2.api)
	assert.Equal(t, 0, c2.Coordinator().Stats().InFlight)
}

func TestNewContainerDefaultsToWhatsApp(t *testing.T) {
	cfg := config.Defaults()
	c, err := NewContainer(context.Background(), cfg, Options{Logger: discardLogger()})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "whatsapp", c.Channel().Name())
	assert.NotNil(t, c.Hub())
}
