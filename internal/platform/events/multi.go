package events

import (
	"context"
	"errors"
)

// MultiPublisher delivers every event to each of its sinks in order. One
// failing sink does not stop the others.
type MultiPublisher struct {
	sinks []Publisher
}

func NewMultiPublisher(sinks ...Publisher) *MultiPublisher {
	return &MultiPublisher{sinks: sinks}
}

func (m *MultiPublisher) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
