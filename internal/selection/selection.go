// Package selection keeps the at-most-one-selected invariant over itinerary candidates.
package selection

import (
	"errors"

	"github.com/samber/lo"

	"transit-planner/internal/models"
)

// NoSelection is the index reported when no path is selected
const NoSelection = -1

// ErrIndexOutOfRange is returned when a selection targets a path that does not exist
var ErrIndexOutOfRange = errors.New("selection: index out of range")

// PickDefault marks the first possible path as selected and returns its index,
// or NoSelection when no path is possible.
func PickDefault(paths []models.Path) int {
	_, index, ok := lo.FindIndexOf(paths, func(p models.Path) bool {
		return p.IsPossible
	})
	if !ok {
		return NoSelection
	}
	paths[index].IsSelected = true
	return index
}

// Reselect moves the selection from previous to next. previous may be NoSelection.
// Any stray flag left on other paths is cleared so at most one path stays selected.
func Reselect(paths []models.Path, previous, next int) ([]models.Path, error) {
	if next < 0 || next >= len(paths) {
		return paths, ErrIndexOutOfRange
	}
	if previous >= 0 && previous < len(paths) {
		paths[previous].IsSelected = false
	}
	for i := range paths {
		paths[i].IsSelected = i == next
	}
	return paths, nil
}

// Selected returns the index of the selected path, or NoSelection
func Selected(paths []models.Path) int {
	_, index, ok := lo.FindIndexOf(paths, func(p models.Path) bool {
		return p.IsSelected
	})
	if !ok {
		return NoSelection
	}
	return index
}
