package models

import (
	"context"

	"github.com/pkg/errors"
)

// Lane serializes operations against one backend. Admission is first-come
// first-served with a single slot; a queued caller gives up when its
// context ends.
type Lane struct {
	slot chan struct{}
}

func NewLane() *Lane {
	return &Lane{slot: make(chan struct{}, 1)}
}

func (l *Lane) Do(ctx context.Context, op string, fn func() error) error {
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), op)
	}
	defer func() { <-l.slot }()
	return fn()
}
