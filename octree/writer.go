package octree

import (
	"context"
	"sync"

	"github.com/pointlake/pointlake/model"
)

// task is a pending inbox of points destined for one cell.
type task struct {
	cell       model.CellID
	points     []model.Point
	createdGen uint64
	newestGen  uint64
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		Cell:       t.cell,
		NrPoints:   len(t.points),
		CreatedGen: t.createdGen,
		NewestGen:  t.newestGen,
	}
}

// scheduler owns the per-cell inboxes and hands them to workers one cell
// at a time. A cell is "locked" while a worker processes its task, which
// guarantees a single writer per node. New points for a locked cell
// accumulate in a fresh inbox and become schedulable once the cell is
// unlocked.
type scheduler struct {
	prio       PriorityFunction
	maxBacklog int // queued points before Push blocks; 0 means unbounded

	mu       sync.Mutex
	cond     *sync.Cond
	inboxes  map[model.CellID]*task
	locked   map[model.CellID]struct{}
	pending  int // points queued across all inboxes
	inFlight int // tasks currently held by workers
	gen      uint64
	closed   bool
}

func newScheduler(prio PriorityFunction, maxBacklog int) *scheduler {
	s := &scheduler{
		prio:       prio,
		maxBacklog: maxBacklog,
		inboxes:    make(map[model.CellID]*task),
		locked:     make(map[model.CellID]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// push queues points for a cell without blocking. Used by workers to spill
// overflow into child inboxes; blocking there would deadlock the pool.
func (s *scheduler) push(cell model.CellID, points []model.Point) {
	if len(points) == 0 {
		return
	}
	s.mu.Lock()
	s.pushLocked(cell, points)
	s.mu.Unlock()
}

// pushWait queues points for a cell, blocking while the backlog is above
// the configured bound. Returns the context error if ctx ends first, or
// ErrClosed after Close.
func (s *scheduler) pushWait(ctx context.Context, cell model.CellID, points []model.Point) error {
	if len(points) == 0 {
		return nil
	}
	stop := context.AfterFunc(ctx, s.cond.Broadcast)
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.maxBacklog > 0 && s.pending >= s.maxBacklog {
		if s.closed {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	if s.closed {
		return ErrClosed
	}
	s.pushLocked(cell, points)
	return nil
}

func (s *scheduler) pushLocked(cell model.CellID, points []model.Point) {
	t, ok := s.inboxes[cell]
	if !ok {
		t = &task{cell: cell, createdGen: s.gen}
		s.inboxes[cell] = t
	}
	t.points = append(t.points, points...)
	t.newestGen = s.gen
	s.pending += len(points)
	s.cond.Broadcast()
}

// next blocks until a task for an unlocked cell is available and returns
// it with the cell locked. It returns false once the scheduler is closed
// and fully drained.
func (s *scheduler) next() (*task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		var best *task
		var bestPrio float64
		for cell, t := range s.inboxes {
			if _, isLocked := s.locked[cell]; isLocked {
				continue
			}
			ti := t.info()
			p := s.prio.Priority(&ti, s.gen)
			if best == nil || p > bestPrio {
				best, bestPrio = t, p
			}
		}
		if best != nil {
			delete(s.inboxes, best.cell)
			s.locked[best.cell] = struct{}{}
			s.pending -= len(best.points)
			s.inFlight++
			s.cond.Broadcast()
			return best, true
		}
		if s.closed && len(s.inboxes) == 0 {
			return nil, false
		}
		s.cond.Wait()
	}
}

// done unlocks the cell after its task has been processed.
func (s *scheduler) done(cell model.CellID) {
	s.mu.Lock()
	delete(s.locked, cell)
	s.inFlight--
	s.cond.Broadcast()
	s.mu.Unlock()
}

// waitDrained blocks until no task is queued or in flight.
func (s *scheduler) waitDrained(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cond.Broadcast)
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.inboxes) > 0 || s.inFlight > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

// advanceGen bumps the generation counter and returns the backlog size for
// metrics sampling.
func (s *scheduler) advanceGen() (tasks, points int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return len(s.inboxes), s.pending
}

// backlog returns the current backlog size.
func (s *scheduler) backlog() (tasks, points int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inboxes), s.pending
}

// close stops accepting new work. Workers drain the remaining inboxes and
// then exit.
func (s *scheduler) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
