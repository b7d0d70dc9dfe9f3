package reconciler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/crmarques/reconctl/faults"
)

// Diff compares the snapshot against the working set and groups every record
// and entry into exactly one plan bucket. The result only depends on its
// inputs; buckets are sorted by identity key.
func Diff[R any](kind Kind[R], original []R, workingSet []Entry[R]) (Plan[R], error) {
	if kind == nil {
		return Plan[R]{}, faults.NewValidationError("reconcile kind is required", nil)
	}

	plan := Plan[R]{Kind: kind.Name()}

	if validator, ok := kind.(Validator[R]); ok {
		if err := validator.ValidateWorkingSet(workingSet); err != nil {
			return Plan[R]{}, asValidationError(kind, err)
		}
	}

	index, err := indexSnapshot(kind, original)
	if err != nil {
		return Plan[R]{}, err
	}

	referenced := make([]bool, len(original))
	seen := make(map[string]struct{}, len(workingSet))
	for _, entry := range workingSet {
		identity := kind.Identity(entry.Value)
		if strings.TrimSpace(identity) == "" {
			return Plan[R]{}, faults.NewValidationError(fmt.Sprintf("%s entry has an empty identity", kind.Name()), nil)
		}
		if _, duplicate := seen[identity]; duplicate {
			return Plan[R]{}, faults.NewValidationError(fmt.Sprintf("%s %q appears more than once in the working set", kind.Name(), identity), nil)
		}
		seen[identity] = struct{}{}

		if entry.IsNew() {
			plan.Add = append(plan.Add, entry.Value)
			continue
		}

		idx, err := index.resolve(entry)
		if err != nil {
			return Plan[R]{}, err
		}
		if referenced[idx] {
			return Plan[R]{}, faults.NewValidationError(
				fmt.Sprintf("%s %q is referenced by more than one entry", kind.Name(), kind.Identity(original[idx])),
				nil,
			)
		}
		referenced[idx] = true

		record := original[idx]
		switch {
		case kind.Protected(record):
			plan.Protected = append(plan.Protected, record)
		case kind.Differs(record, entry.Value):
			plan.Update = append(plan.Update, Change[R]{Original: record, Desired: entry.Value})
		default:
			plan.Unchanged = append(plan.Unchanged, Change[R]{Original: record, Desired: entry.Value})
		}
	}

	for idx, record := range original {
		if referenced[idx] {
			continue
		}
		if kind.Protected(record) {
			plan.Protected = append(plan.Protected, record)
			continue
		}
		plan.Remove = append(plan.Remove, record)
	}

	sortRecords(kind, plan.Remove)
	sortRecords(kind, plan.Add)
	sortRecords(kind, plan.Protected)
	sortChanges(kind, plan.Update)
	sortChanges(kind, plan.Unchanged)

	return plan, nil
}

type snapshotIndex[R any] struct {
	kind        Kind[R]
	byIdentity  map[string]int
	byReference map[*R]int
}

func indexSnapshot[R any](kind Kind[R], original []R) (snapshotIndex[R], error) {
	index := snapshotIndex[R]{
		kind:        kind,
		byIdentity:  make(map[string]int, len(original)),
		byReference: make(map[*R]int, len(original)),
	}
	for idx := range original {
		identity := kind.Identity(original[idx])
		if _, duplicate := index.byIdentity[identity]; duplicate {
			return snapshotIndex[R]{}, faults.NewValidationError(
				fmt.Sprintf("%s snapshot contains %q more than once", kind.Name(), identity),
				nil,
			)
		}
		index.byIdentity[identity] = idx
		index.byReference[&original[idx]] = idx
	}
	return index, nil
}

func (i snapshotIndex[R]) resolve(entry Entry[R]) (int, error) {
	switch i.kind.Match() {
	case MatchByReference:
		idx, ok := i.byReference[entry.Original]
		if !ok {
			return 0, faults.NewValidationError(
				fmt.Sprintf("%s entry %q references a record outside the snapshot", i.kind.Name(), i.kind.Identity(entry.Value)),
				nil,
			)
		}
		return idx, nil
	default:
		originalIdentity := i.kind.Identity(*entry.Original)
		idx, ok := i.byIdentity[originalIdentity]
		if !ok {
			return 0, faults.NewValidationError(
				fmt.Sprintf("%s entry %q references a record outside the snapshot", i.kind.Name(), originalIdentity),
				nil,
			)
		}
		if desired := i.kind.Identity(entry.Value); desired != originalIdentity {
			return 0, faults.NewValidationError(
				fmt.Sprintf("%s %q cannot change its identity to %q", i.kind.Name(), originalIdentity, desired),
				nil,
			)
		}
		return idx, nil
	}
}

func sortRecords[R any](kind Kind[R], records []R) {
	slices.SortStableFunc(records, func(a R, b R) int {
		return strings.Compare(kind.Identity(a), kind.Identity(b))
	})
}

func sortChanges[R any](kind Kind[R], changes []Change[R]) {
	slices.SortStableFunc(changes, func(a Change[R], b Change[R]) int {
		return strings.Compare(kind.Identity(a.Original), kind.Identity(b.Original))
	})
}

func asValidationError[R any](kind Kind[R], err error) error {
	if _, ok := faults.CategoryOf(err); ok {
		return err
	}
	return faults.NewValidationError(fmt.Sprintf("invalid %s working set", kind.Name()), err)
}
