package docflow

import (
	"context"
	"time"
)

// ApprovedEvent is published after a document approval commits.
type ApprovedEvent struct {
	DocType    DocType
	DocumentID int64
	ActorID    int64
	OccurredAt time.Time
}

// IntegrationHandler receives workflow events after commit. Handlers run
// best-effort; a failure is logged, never propagated.
type IntegrationHandler interface {
	HandleApproved(ctx context.Context, evt ApprovedEvent) error
}
