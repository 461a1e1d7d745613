package serialization

import (
	"fmt"
	"sort"
)

// ValidateOffsets checks for overlapping tensor ranges and out-of-bounds access.
// Malformed files would otherwise hand out slices of unrelated tensors.
func ValidateOffsets(tensors map[string]TensorInfo, dataSize int64) error {
	type span struct {
		name       string
		start, end int64
	}
	spans := make([]span, 0, len(tensors))
	for name, info := range tensors {
		spans = append(spans, span{name, info.DataOffsets[0], info.DataOffsets[1]})
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].name < spans[j].name
	})

	for i, s := range spans {
		if s.start < 0 || s.end < s.start || s.end > dataSize {
			return &ValidationError{
				Kind:    ErrOutOfBounds,
				Tensor:  s.name,
				Details: fmt.Sprintf("range [%d, %d) with data size %d", s.start, s.end, dataSize),
			}
		}
		if i < len(spans)-1 && s.end > spans[i+1].start {
			next := spans[i+1]
			return &ValidationError{
				Kind:    ErrOffsetOverlap,
				Tensor:  s.name,
				Tensor2: next.name,
				Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap", s.start, s.end, next.start, next.end),
			}
		}
	}
	return nil
}
