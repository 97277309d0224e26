package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is satisfied by storage.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageCheck pings the policy state store.
func StorageCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("storage ping failed: %w", err)
		}
		return nil
	}
}

// ObjectiveLister is satisfied by variants.RegistrySet.
type ObjectiveLister interface {
	ObjectiveIDs() []string
}

// RegistryCheck fails when no variant registry is loaded.
func RegistryCheck(set ObjectiveLister) CheckFunc {
	return func(context.Context) error {
		if len(set.ObjectiveIDs()) == 0 {
			return errors.New("no variant registries loaded")
		}
		return nil
	}
}

// SchedulerStatus is satisfied by retention.Scheduler.
type SchedulerStatus interface {
	IsRunning() bool
}

// SchedulerCheck fails when the retention scheduler is not running.
func SchedulerCheck(s SchedulerStatus) CheckFunc {
	return func(context.Context) error {
		if !s.IsRunning() {
			return errors.New("retention scheduler is not running")
		}
		return nil
	}
}
