package tasks

import (
	"context"
	"sync"
	"time"

	"studysphere-realtime/internal/domain"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Enqueuer 是 *asynq.Client 的子集，测试时可替换
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

const (
	recorderBufferSize = 1024
	enqueueTimeout     = 5 * time.Second
)

// SessionRecorder 把房间开启/关闭事件转成 asynq 任务。
// RoomOpened/RoomClosed 在房间注册表的锁内被调用，只做非阻塞入队，
// 真正的 Redis 写入在后台 goroutine 里完成。缓冲满时丢弃并记日志。
type SessionRecorder struct {
	client Enqueuer
	queue  chan *asynq.Task
	log    *logrus.Entry

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewSessionRecorder 创建 SessionRecorder 并启动后台入队 goroutine
func NewSessionRecorder(client Enqueuer, logger *logrus.Logger) *SessionRecorder {
	if client == nil {
		panic("asynq client cannot be nil for SessionRecorder")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &SessionRecorder{
		client: client,
		queue:  make(chan *asynq.Task, recorderBufferSize),
		log:    logger.WithField("component", "session_recorder"),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *SessionRecorder) RoomOpened(room domain.Room) {
	task, err := NewRoomSessionOpenTask(room)
	if err != nil {
		r.log.WithError(err).WithField("room_id", room.ID).Error("Failed to build session open task")
		return
	}
	r.offer(task, room.ID)
}

func (r *SessionRecorder) RoomClosed(room domain.Room, reason string, closedAt time.Time) {
	task, err := NewRoomSessionCloseTask(room, reason, closedAt)
	if err != nil {
		r.log.WithError(err).WithField("room_id", room.ID).Error("Failed to build session close task")
		return
	}
	r.offer(task, room.ID)
}

func (r *SessionRecorder) offer(task *asynq.Task, roomID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.WithField("room_id", roomID).Debug("Recorder closed, session event dropped")
		return
	}
	select {
	case r.queue <- task:
	default:
		r.log.WithFields(logrus.Fields{
			"room_id":   roomID,
			"task_type": task.Type(),
		}).Warn("Session recorder buffer full, dropping event")
	}
}

func (r *SessionRecorder) run() {
	defer close(r.done)
	for task := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		info, err := r.client.EnqueueContext(ctx, task)
		cancel()
		if err != nil {
			r.log.WithError(err).WithField("task_type", task.Type()).Error("Failed to enqueue session task")
			continue
		}
		r.log.WithFields(logrus.Fields{
			"task_id":   info.ID,
			"task_type": task.Type(),
		}).Debug("Session task enqueued")
	}
}

// Close 停止接收事件，等待缓冲中的任务全部入队
func (r *SessionRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
