package handlers

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/mailer"
	"github.com/taponn/jobcore/pkg/types"
)

// DataStore is everything the database-backed handlers need
type DataStore interface {
	AnalyticsStore
	CleanupStore
	ReportStore
	WebhookStore
}

// Deps are the collaborators handlers are built from. Store may be nil, in
// which case only the handlers that need no database are registered.
type Deps struct {
	Mailer         mailer.Mailer
	Store          DataStore
	WebhookTimeout time.Duration
	Logger         *zap.Logger
}

// Register adds the platform's job handlers to the registry
func Register(registry *job.Registry, deps Deps) error {
	handlers := []types.JobHandler{
		NewEmailJobHandler(deps.Mailer, deps.Logger),
		NewWelcomeEmailHandler(deps.Mailer),
	}

	if deps.Store != nil {
		handlers = append(handlers,
			NewLeadNotificationHandler(deps.Mailer, deps.Store),
			NewAnalyticsHandler(deps.Store, deps.Logger),
			NewCleanupHandler(deps.Store, deps.Logger),
			NewReportHandler(deps.Store, deps.Mailer, deps.Logger),
			NewWebhookHandler(deps.Store, deps.WebhookTimeout, deps.Logger),
		)
	} else {
		deps.Logger.Warn("No database configured, database-backed job handlers are disabled")
	}

	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", h.Type(), err)
		}
	}
	return nil
}
