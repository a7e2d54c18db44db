package octree

import (
	"fmt"
	"math"

	"github.com/pointlake/pointlake/model"
)

// TaskInfo is the scheduling-relevant view of a pending insertion task.
// Generations are coarse time: the scheduler advances a counter on a fixed
// tick, and each task remembers the generations it was created and last
// fed in.
type TaskInfo struct {
	Cell       model.CellID
	NrPoints   int
	CreatedGen uint64
	NewestGen  uint64
}

// PriorityFunction ranks pending insertion tasks. Workers always take the
// unlocked task with the highest priority; ties break arbitrarily.
type PriorityFunction interface {
	Priority(t *TaskInfo, currentGen uint64) float64
	fmt.Stringer
}

// Priority function names accepted by ParsePriorityFunction.
const (
	PriorityNrPoints        = "NrPoints"
	PriorityTreeLevel       = "TreeLevel"
	PriorityTaskAge         = "TaskAge"
	PriorityOldestPoint     = "OldestPoint"
	PriorityNewestPoint     = "NewestPoint"
	PriorityNrPointsTaskAge = "NrPointsWeightedByTaskAge"
)

// ParsePriorityFunction maps a configuration name to its implementation.
func ParsePriorityFunction(name string) (PriorityFunction, error) {
	switch name {
	case PriorityNrPoints, "":
		return nrPointsPriority{}, nil
	case PriorityTreeLevel, "Lod":
		return treeLevelPriority{}, nil
	case PriorityTaskAge:
		return taskAgePriority{}, nil
	case PriorityOldestPoint:
		return oldestPointPriority{}, nil
	case PriorityNewestPoint:
		return newestPointPriority{}, nil
	case PriorityNrPointsTaskAge:
		return nrPointsTaskAgePriority{}, nil
	default:
		return nil, fmt.Errorf("unknown task priority function %q", name)
	}
}

// nrPointsPriority favors large tasks, maximizing points written per page
// load.
type nrPointsPriority struct{}

func (nrPointsPriority) Priority(t *TaskInfo, _ uint64) float64 {
	return float64(t.NrPoints)
}

func (nrPointsPriority) String() string { return PriorityNrPoints }

// treeLevelPriority favors tasks close to the root, so coarse levels are
// queryable before fine ones.
type treeLevelPriority struct{}

func (treeLevelPriority) Priority(t *TaskInfo, _ uint64) float64 {
	return -float64(t.Cell.LOD)
}

func (treeLevelPriority) String() string { return PriorityTreeLevel }

// taskAgePriority favors tasks that have waited longest since creation,
// bounding per-task latency.
type taskAgePriority struct{}

func (taskAgePriority) Priority(t *TaskInfo, currentGen uint64) float64 {
	return float64(currentGen - t.CreatedGen)
}

func (taskAgePriority) String() string { return PriorityTaskAge }

// oldestPointPriority favors tasks whose oldest queued point arrived
// earliest. For a task that is never re-fed this equals taskAgePriority;
// re-feeding a task does not reset its age.
type oldestPointPriority struct{}

func (oldestPointPriority) Priority(t *TaskInfo, currentGen uint64) float64 {
	return float64(currentGen - t.CreatedGen)
}

func (oldestPointPriority) String() string { return PriorityOldestPoint }

// newestPointPriority favors tasks holding the most recently arrived
// points, keeping the visible index close to the live sensor stream.
type newestPointPriority struct{}

func (newestPointPriority) Priority(t *TaskInfo, _ uint64) float64 {
	return float64(t.NewestGen)
}

func (newestPointPriority) String() string { return PriorityNewestPoint }

// nrPointsTaskAgePriority weights task size exponentially by age, so large
// tasks go first but starving small ones eventually win. The exponent is
// clamped to keep the weight finite over long runs.
type nrPointsTaskAgePriority struct{}

func (nrPointsTaskAgePriority) Priority(t *TaskInfo, currentGen uint64) float64 {
	age := currentGen - t.CreatedGen
	if age > 32 {
		age = 32
	}
	return float64(t.NrPoints) * math.Pow(2, float64(age))
}

func (nrPointsTaskAgePriority) String() string { return PriorityNrPointsTaskAge }
