package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"studysphere-realtime/internal/domain"
	"studysphere-realtime/internal/dto"
	memorystate "studysphere-realtime/internal/infra/state/memory"
	"studysphere-realtime/internal/service"
	"studysphere-realtime/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("t%d", len(f.tasks)), Type: task.Type()}, nil
}

func (f *fakeEnqueuer) snapshot() []*asynq.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*asynq.Task(nil), f.tasks...)
}

func TestSessionRecorder_RecordsRoomLifecycle(t *testing.T) {
	enq := &fakeEnqueuer{}
	rec := tasks.NewSessionRecorder(enq, nil)

	opened := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := service.NewRoomService(memorystate.NewRoomStore(), rec).
		WithClock(func() time.Time { return opened })

	_, err := svc.CreateRoom(dto.RoomRequest{RoomID: "r1", RoomName: "Study", WorkspaceID: "w1", UserID: "u1", UserName: "Alice"}, "c1")
	require.NoError(t, err)
	_, err = svc.JoinRoom(dto.RoomRequest{RoomID: "r1", RoomName: "Study", WorkspaceID: "w1", UserID: "u2", UserName: "Bob"}, "c2")
	require.NoError(t, err)
	require.NotNil(t, svc.Disconnect("c1"))

	rec.Close()

	got := enq.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, tasks.TypeRoomSessionOpen, got[0].Type())
	assert.Equal(t, tasks.TypeRoomSessionClose, got[1].Type())

	var open tasks.RoomSessionOpenPayload
	require.NoError(t, json.Unmarshal(got[0].Payload(), &open))
	assert.Equal(t, tasks.RoomSessionOpenPayload{
		RoomID: "r1", RoomName: "Study", WorkspaceID: "w1", HostID: "u1", OpenedAt: opened,
	}, open)

	var closed tasks.RoomSessionClosePayload
	require.NoError(t, json.Unmarshal(got[1].Payload(), &closed))
	assert.Equal(t, "r1", closed.RoomID)
	assert.True(t, closed.OpenedAt.Equal(opened))
	assert.Equal(t, domain.CloseReasonHostLeft, closed.Reason)
	assert.Equal(t, 2, closed.PeakSize)
}

func TestSessionRecorder_EnqueueFailureIsNotFatal(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	rec := tasks.NewSessionRecorder(enq, nil)

	assert.NotPanics(t, func() {
		rec.RoomOpened(domain.Room{ID: "r1", CreatedAt: time.Now()})
		rec.Close()
	})
	assert.Empty(t, enq.snapshot())
}

func TestSessionRecorder_DropsAfterClose(t *testing.T) {
	enq := &fakeEnqueuer{}
	rec := tasks.NewSessionRecorder(enq, nil)
	rec.Close()
	rec.Close()

	rec.RoomClosed(domain.Room{ID: "r1"}, domain.CloseReasonEmpty, time.Now())
	assert.Empty(t, enq.snapshot())
}

func TestNewRoomSessionPruneTask(t *testing.T) {
	task := tasks.NewRoomSessionPruneTask()
	assert.Equal(t, tasks.TypeRoomSessionPrune, task.Type())
	assert.Empty(t, task.Payload())
}
