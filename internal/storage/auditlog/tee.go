package auditlog

import (
	"github.com/pkg/errors"

	"github.com/vadiminshakov/hive/internal/domain"
)

// Sink is anything that accepts the audit stream.
type Sink interface {
	AppendTransaction(domain.Transaction) error
	AppendOrder(domain.Order) error
	AppendCoordination(domain.CoordinationEvent) error
}

// Tee writes every record to all sinks and joins their errors.
type Tee []Sink

func (t Tee) AppendTransaction(tx domain.Transaction) error {
	return t.each(func(s Sink) error { return s.AppendTransaction(tx) })
}

func (t Tee) AppendOrder(order domain.Order) error {
	return t.each(func(s Sink) error { return s.AppendOrder(order) })
}

func (t Tee) AppendCoordination(event domain.CoordinationEvent) error {
	return t.each(func(s Sink) error { return s.AppendCoordination(event) })
}

func (t Tee) each(fn func(Sink) error) error {
	var first error
	for _, s := range t {
		if err := fn(s); err != nil && first == nil {
			first = errors.Wrapf(err, "audit sink %T", s)
		}
	}
	return first
}

// Discard drops every record. It is the store used when auditing is disabled.
type Discard struct{}

func (Discard) AppendTransaction(domain.Transaction) error        { return nil }
func (Discard) AppendOrder(domain.Order) error                    { return nil }
func (Discard) AppendCoordination(domain.CoordinationEvent) error { return nil }
