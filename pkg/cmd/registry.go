// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/nurtura/nurtura/pkg/actions/createtask"
	"github.com/nurtura/nurtura/pkg/actions/sendemail"
	"github.com/nurtura/nurtura/pkg/actions/updatefield"
	"github.com/nurtura/nurtura/pkg/actions/webhook"
	"github.com/nurtura/nurtura/pkg/crm"
	"github.com/nurtura/nurtura/pkg/dedupe"
	"github.com/nurtura/nurtura/pkg/registry"
)

// NewCRMClient builds the CRM backend used for snapshots and action side
// effects. Without a base URL the in-memory backend is used, which only makes
// sense for local development.
func NewCRMClient(logger *slog.Logger, baseURL, apiKey string) crm.Backend {
	if baseURL == "" {
		logger.Warn("CRM_API_URL not set, using in-memory CRM backend")

		return crm.NewMemory()
	}

	return crm.NewClient(baseURL, apiKey)
}

// NewDedupeStore builds the action dedupe store. A redis:// URL selects the
// shared Redis store; empty falls back to the per-process in-memory store.
func NewDedupeStore(logger *slog.Logger, redisURL string) dedupe.Store {
	if redisURL == "" {
		logger.Warn("REDIS_URL not set, using in-memory dedupe store")

		return dedupe.NewMemoryStore()
	}

	store, err := dedupe.NewRedisStore(redisURL)
	if err != nil {
		panic(err)
	}

	return store
}

// NewRegistry assembles the action registry with every native action bound to
// the CRM backend.
func NewRegistry(log *slog.Logger, backend crm.Backend) *registry.Registry {
	reg := registry.NewRegistry(log)

	reg.RegisterAction(sendemail.NewActionFactory(backend))
	reg.RegisterAction(createtask.NewActionFactory(backend))
	reg.RegisterAction(updatefield.NewActionFactory(backend))
	reg.RegisterAction(webhook.NewActionFactory())

	return reg
}
