package storage

import (
	"context"
	"fmt"
	"sync"

	"taskplanner/internal/planner"
)

// memStore keeps tasks in creation order. It also backs the file driver.
type memStore struct {
	mu    sync.RWMutex
	tasks []*Task
	index map[string]int

	// persist is called with the lock held after every successful mutation.
	persist func(tasks []*Task) error
}

func NewMemory() Store { return newMemStore(nil) }

func newMemStore(tasks []*Task) *memStore {
	s := &memStore{index: map[string]int{}}
	for _, t := range tasks {
		s.index[t.ID] = len(s.tasks)
		s.tasks = append(s.tasks, t)
	}
	return s
}

func (s *memStore) CreateTask(ctx context.Context, t *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareNew(t, nowUTC()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.index[t.ID]; dup {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalid, t.ID)
	}
	s.index[t.ID] = len(s.tasks)
	s.tasks = append(s.tasks, clone(t))
	if err := s.flushLocked(); err != nil {
		s.tasks = s.tasks[:len(s.tasks)-1]
		delete(s.index, t.ID)
		return err
	}
	return nil
}

func (s *memStore) GetTask(ctx context.Context, id string) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s.tasks[i]), nil
}

func (s *memStore) ListTasks(ctx context.Context, opt ListOptions) ([]*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.tasks, opt), nil
}

func (s *memStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	return s.mutate(ctx, id, func(t *Task) { patch.apply(t) })
}

func (s *memStore) CompleteTask(ctx context.Context, id string) (*Task, error) {
	return s.mutate(ctx, id, func(t *Task) { t.Status = planner.StatusCompleted })
}

func (s *memStore) mutate(ctx context.Context, id string, fn func(t *Task)) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := clone(s.tasks[i])
	fn(next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = nowUTC()

	prev := s.tasks[i]
	s.tasks[i] = next
	if err := s.flushLocked(); err != nil {
		s.tasks[i] = prev
		return nil, err
	}
	return clone(next), nil
}

func (s *memStore) DeleteTask(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	prev := append([]*Task(nil), s.tasks...)
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	s.reindexLocked()
	if err := s.flushLocked(); err != nil {
		s.tasks = prev
		s.reindexLocked()
		return err
	}
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) reindexLocked() {
	s.index = make(map[string]int, len(s.tasks))
	for i, t := range s.tasks {
		s.index[t.ID] = i
	}
}

func (s *memStore) flushLocked() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(s.tasks)
}
