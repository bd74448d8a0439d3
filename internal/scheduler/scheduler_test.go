package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/events"
	"github.com/mattjoyce/agentbridge/internal/scheduler/mocks"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr     string
		hasError bool
	}{
		{"@hourly", false},
		{"@daily", false},
		{"*/15 * * * *", false},
		{"@every 10m", false},
		{"not a schedule", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr)
			if tt.hasError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartRecoversInterruptedRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockJournal := mocks.NewMockJournalService(ctrl)
	slogger, logBuf := NewTestSlogger()
	cfg := config.Defaults()

	s := New(cfg, mockJournal, events.NewHub(8), slogger)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	mockJournal.EXPECT().RecoverInterrupted(gomock.Any(), fixed).Return(int64(3), nil)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	assert.Contains(t, logBuf.String(), "Marked interrupted requests as abandoned")
	assert.Contains(t, logBuf.String(), `"count":3`)
}

func TestStartFailsWhenRecoveryFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockJournal := mocks.NewMockJournalService(ctrl)
	slogger, _ := NewTestSlogger()

	s := New(config.Defaults(), mockJournal, nil, slogger)
	mockJournal.EXPECT().RecoverInterrupted(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("db error"))

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to recover interrupted requests: db error")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockJournal := mocks.NewMockJournalService(ctrl)
	slogger, _ := NewTestSlogger()
	cfg := config.Defaults()
	cfg.Journal.PruneSchedule = "every so often"

	s := New(cfg, mockJournal, nil, slogger)
	mockJournal.EXPECT().RecoverInterrupted(gomock.Any(), gomock.Any()).Return(int64(0), nil)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid prune schedule")
}

func TestPrunePublishesEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockJournal := mocks.NewMockJournalService(ctrl)
	slogger, _ := NewTestSlogger()
	hub := events.NewHub(8)
	cfg := config.Defaults()
	cfg.Journal.Retention = 48 * time.Hour

	s := New(cfg, mockJournal, hub, slogger)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	mockJournal.EXPECT().Prune(gomock.Any(), 48*time.Hour, fixed).Return(int64(7), nil)

	n, err := s.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeJournalPruned, evs[0].Type)
	var p events.PrunePayload
	require.NoError(t, json.Unmarshal(evs[0].Data, &p))
	assert.Equal(t, int64(7), p.Deleted)
	assert.Equal(t, "48h0m0s", p.Retention)
}

func TestPruneErrorPublishesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockJournal := mocks.NewMockJournalService(ctrl)
	slogger, _ := NewTestSlogger()
	hub := events.NewHub(8)

	s := New(config.Defaults(), mockJournal, hub, slogger)
	mockJournal.EXPECT().Prune(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), errors.New("locked"))

	_, err := s.Prune(context.Background())
	assert.Error(t, err)
	assert.Empty(t, hub.SnapshotSince(0))
}

func TestCronRunsPrune(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockJournal := mocks.NewMockJournalService(ctrl)
	slogger, _ := NewTestSlogger()
	cfg := config.Defaults()
	cfg.Journal.PruneSchedule = "@every 1s"

	s := New(cfg, mockJournal, nil, slogger)

	pruned := make(chan struct{}, 4)
	mockJournal.EXPECT().RecoverInterrupted(gomock.Any(), gomock.Any()).Return(int64(0), nil)
	mockJournal.EXPECT().Prune(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, time.Duration, time.Time) (int64, error) {
			pruned <- struct{}{}
			return 0, nil
		}).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-pruned:
	case <-time.After(3 * time.Second):
		t.Fatal("prune never ran")
	}
	cancel()
	require.NoError(t, <-done)
}
