// Package ports declares the contracts this bounded context consumes from
// other modules.
package ports

import (
	"context"

	"github.com/google/uuid"
)

// Notifier is the tenant-scoped notification sink. Delivery is
// fire-and-forget: implementations may queue or drop, and callers log
// failures without propagating them.
type Notifier interface {
	Notify(ctx context.Context, tenantID uuid.UUID, eventType string, payload map[string]any) error
}
