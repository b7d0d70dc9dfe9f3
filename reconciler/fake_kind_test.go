package reconciler

import (
	"context"
	"errors"
	"sync"

	"github.com/crmarques/reconctl/resource"
)

type item struct {
	ID     string
	Value  string
	Locked bool
}

type call struct {
	Operation Operation
	Identity  string
}

type fakeKind struct {
	match  MatchMode
	failOn map[string]error

	mu    sync.Mutex
	calls []call
}

func newFakeKind(match MatchMode) *fakeKind {
	return &fakeKind{match: match, failOn: map[string]error{}}
}

func (k *fakeKind) Name() resource.Kind { return resource.Kind("items") }

func (k *fakeKind) Identity(record item) string { return record.ID }

func (k *fakeKind) Match() MatchMode { return k.match }

func (k *fakeKind) Protected(record item) bool { return record.Locked }

func (k *fakeKind) Differs(original item, desired item) bool {
	return original.Value != desired.Value || original.ID != desired.ID
}

func (k *fakeKind) Add(_ context.Context, desired item) error {
	return k.record(OperationAdd, desired.ID)
}

func (k *fakeKind) Remove(_ context.Context, original item) error {
	return k.record(OperationRemove, original.ID)
}

func (k *fakeKind) Update(_ context.Context, original item, _ item) error {
	return k.record(OperationUpdate, original.ID)
}

func (k *fakeKind) record(operation Operation, identity string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, call{Operation: operation, Identity: identity})
	if err, ok := k.failOn[string(operation)+":"+identity]; ok {
		return err
	}
	return nil
}

func (k *fakeKind) recorded() []call {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]call(nil), k.calls...)
}

var errRemote = errors.New("remote rejected the call")

type validatingKind struct {
	*fakeKind
	err error
}

func (k validatingKind) ValidateWorkingSet([]Entry[item]) error {
	return k.err
}
