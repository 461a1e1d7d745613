// Package parallel describes the tensor-parallel process group a checkpoint is
// loaded into.
//
// Nothing here talks to other processes: a group only answers which slice of
// each sharded tensor the local process owns.
package parallel

import "fmt"

// ProcessGroup reports the tensor-parallel coordinates of the local process.
type ProcessGroup interface {
	// Rank is the index of this process within the tensor-parallel group.
	Rank() int
	// WorldSize is the number of processes in the tensor-parallel group.
	WorldSize() int
}

// SliceParallelGroup is implemented by groups where parameters are sliced over a
// dedicated "slice parallel" group rather than the plain tensor-parallel one.
// When present it takes precedence.
type SliceParallelGroup interface {
	ProcessGroup
	SliceParallelRank() int
	SliceParallelWorldSize() int
}

// TensorParallel resolves rank and world size of g.
// ok is false when g is nil, in which case rank 0 of a group of one is returned.
func TensorParallel(g ProcessGroup) (rank, worldSize int, ok bool) {
	if g == nil {
		return 0, 1, false
	}
	if sp, isSlice := g.(SliceParallelGroup); isSlice {
		return sp.SliceParallelRank(), sp.SliceParallelWorldSize(), true
	}
	return g.Rank(), g.WorldSize(), true
}

// Static is a fixed process group, typically built from command line flags.
type Static struct {
	rank      int
	worldSize int
}

// NewStatic creates a fixed group. rank must lie in [0, worldSize).
func NewStatic(rank, worldSize int) (*Static, error) {
	if worldSize < 1 {
		return nil, fmt.Errorf("world size must be positive, got %d", worldSize)
	}
	if rank < 0 || rank >= worldSize {
		return nil, fmt.Errorf("rank %d out of range for world size %d", rank, worldSize)
	}
	return &Static{rank: rank, worldSize: worldSize}, nil
}

// Rank implements ProcessGroup.
func (s *Static) Rank() int { return s.rank }

// WorldSize implements ProcessGroup.
func (s *Static) WorldSize() int { return s.worldSize }

// String returns a human-readable description of the group.
func (s *Static) String() string {
	return fmt.Sprintf("tp[%d/%d]", s.rank, s.worldSize)
}
