package executor

import (
	"errors"

	"github.com/astrid/sdssfit/internal/priors"
	"github.com/astrid/sdssfit/internal/queue"
)

// ErrSourceDrained signals a Source has no more inputs.
var ErrSourceDrained = errors.New("input source drained")

// Job is one unit of work: a spectrum file and its per-star priors.
type Job struct {
	Input  string
	Priors priors.Set
}

// Source yields jobs until drained. Implementations are called from the
// dispatch goroutine only and need not be safe for concurrent use.
type Source interface {
	// Next returns the next job, ErrSourceDrained when no inputs remain,
	// or any other error when the source itself fails.
	Next() (Job, error)

	// Total returns the number of inputs and whether that number is known
	// up front. Live queues report false.
	Total() (int, bool)
}

// SliceSource feeds a fixed input list, optionally aligned with per-star
// prior sets.
type SliceSource struct {
	files  []string
	priors []priors.Set
	next   int
}

// NewSliceSource creates a SliceSource. priorSets may be nil; when present
// its length must equal len(files), which prior resolution guarantees.
func NewSliceSource(files []string, priorSets []priors.Set) *SliceSource {
	return &SliceSource{files: files, priors: priorSets}
}

func (s *SliceSource) Next() (Job, error) {
	if s.next >= len(s.files) {
		return Job{}, ErrSourceDrained
	}
	job := Job{Input: s.files[s.next]}
	if s.priors != nil {
		job.Priors = s.priors[s.next]
	}
	s.next++
	return job, nil
}

func (s *SliceSource) Total() (int, bool) {
	return len(s.files), true
}

// QueueSource drains a shared work-list file. Each Next pops one entry
// under the queue's file lock, so concurrent sdssfit processes can feed
// from the same queue. Queue mode carries no per-star priors.
type QueueSource struct {
	queue *queue.Queue
}

// NewQueueSource creates a QueueSource over the given queue.
func NewQueueSource(q *queue.Queue) *QueueSource {
	return &QueueSource{queue: q}
}

func (s *QueueSource) Next() (Job, error) {
	entry, err := s.queue.Pop()
	if err != nil {
		if errors.Is(err, queue.ErrEmpty) {
			return Job{}, ErrSourceDrained
		}
		return Job{}, err
	}
	return Job{Input: entry}, nil
}

func (s *QueueSource) Total() (int, bool) {
	return 0, false
}
