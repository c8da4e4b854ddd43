package sink

import (
	"context"

	"elastic-hive-sync/internal/model"
)

// Kind classifies the result of one submission.
type Kind int

const (
	Accepted Kind = iota
	Duplicate
	Failed
	TransportError
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	case TransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Outcome is what Submit reports for a single alert. Reason is set for
// Failed and TransportError.
type Outcome struct {
	Kind       Kind
	Reason     string
	StatusCode int
}

// Forwarded reports whether the alert now exists in the sink, either because
// it was created or because it was already there.
func (o Outcome) Forwarded() bool {
	return o.Kind == Accepted || o.Kind == Duplicate
}

// Sink is the minimal interface all sinks must implement.
type Sink interface {
	Name() string
	TestConnection(ctx context.Context) error
	Submit(ctx context.Context, alert model.SinkAlert) Outcome
}
