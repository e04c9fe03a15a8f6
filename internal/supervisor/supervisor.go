// Package supervisor хранит фоновые задачи аккаунтов: не больше одной на телефон,
// с отчётом о состоянии и корректной остановкой всех задач.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"autoclick_go/logger"
	"autoclick_go/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning — для телефона уже работает задача.
	ErrAlreadyRunning = errors.New("task already running")
	// ErrClosed — супервизор остановлен и новых задач не принимает.
	ErrClosed = errors.New("supervisor is shut down")
)

// RunFunc — тело задачи. Должно вернуться после отмены ctx.
type RunFunc func(ctx context.Context) error

type entry struct {
	status models.TaskStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor — реестр запущенных задач.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*entry
	log   *logrus.Entry
}

// New создаёт супервизор; задачи получают контексты, производные от parent.
func New(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*entry),
		log:    logger.For("supervisor"),
	}
}

// Start запускает задачу для phone и возвращает идентификатор запуска.
// onStop вызывается после завершения задачи, в том числе после паники.
func (s *Supervisor) Start(phone string, run RunFunc, onStop func()) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return "", ErrClosed
	}
	if e, ok := s.tasks[phone]; ok && e.status.State == models.TaskRunning {
		return "", ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		status: models.TaskStatus{
			Phone:     phone,
			RunID:     uuid.NewString(),
			State:     models.TaskRunning,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.tasks[phone] = e
	s.log.Infof("[SUPERVISOR] %s: задача запущена (run %s)", phone, e.status.RunID)

	go func() {
		defer close(e.done)
		defer cancel()
		if onStop != nil {
			defer onStop()
		}
		err := safeRun(ctx, run)
		s.finish(ctx, e, err)
	}()
	return e.status.RunID, nil
}

func safeRun(ctx context.Context, run RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.For("supervisor").Errorf("[SUPERVISOR] паника в задаче: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}

func (s *Supervisor) finish(ctx context.Context, e *entry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	phone := e.status.Phone
	if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		e.status.State = models.TaskStopped
		s.log.Infof("[SUPERVISOR] %s: задача завершена", phone)
		return
	}
	e.status.State = models.TaskFailed
	e.status.LastError = err.Error()
	s.log.Errorf("[SUPERVISOR] %s: задача упала: %v", phone, err)
}

// Touch отмечает завершённый виток задачи.
func (s *Supervisor) Touch(phone string, cycleErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[phone]
	if !ok {
		return
	}
	now := time.Now().UTC()
	e.status.LastCycle = &now
	e.status.Cycles++
	if cycleErr != nil {
		e.status.LastError = cycleErr.Error()
	} else {
		e.status.LastError = ""
	}
}

// Running сообщает, работает ли задача для phone.
func (s *Supervisor) Running(phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[phone]
	return ok && e.status.State == models.TaskRunning
}

// Status возвращает снимок всех задач, отсортированный по телефону.
func (s *Supervisor) Status() []models.TaskStatus {
	s.mu.Lock()
	out := make([]models.TaskStatus, 0, len(s.tasks))
	for _, e := range s.tasks {
		st := e.status
		if st.LastCycle != nil {
			t := *st.LastCycle
			st.LastCycle = &t
		}
		out = append(out, st)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out
}

// Shutdown отменяет все задачи и ждёт их завершения или истечения ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	done := make([]chan struct{}, 0, len(s.tasks))
	for _, e := range s.tasks {
		done = append(done, e.done)
	}
	s.mu.Unlock()

	s.log.Infof("[SUPERVISOR] остановка %d задач", len(done))
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range done {
		ch := ch
		g.Go(func() error {
			select {
			case <-ch:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
