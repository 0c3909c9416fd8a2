package di

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"

	"github.com/gblikas/keyrot"
)

// probeResponse is the placeholder response type for the diagnostic Pool
// keyrotctl builds to inspect key state. keyrotctl never calls Execute,
// so the classifier is never invoked; it exists only to satisfy
// keyrot.NewPool's signature.
type probeResponse struct{}

func probeClassifier() keyrot.Classifier[probeResponse] {
	return keyrot.Classifier[probeResponse]{
		IsRateLimited:     func(probeResponse) bool { return false },
		IsError:           func(probeResponse) bool { return false },
		GetRetryAfter:     func(probeResponse) (int, bool) { return 0, false },
		GetQuotaRemaining: func(probeResponse) (int, bool) { return 0, false },
	}
}

// PoolService wraps a keyrot.Pool built from the loaded config, used by
// the health and stats commands to inspect live key state without
// issuing any requests through it.
type PoolService struct {
	Pool *keyrot.Pool[probeResponse]
}

// NewPoolService constructs the diagnostic Pool for the loaded config.
func NewPoolService(i do.Injector) (*PoolService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.File.ToPoolConfig()
	cfg.Logger = &logSvc.Logger

	store, err := cfgSvc.File.NewStorage(context.Background(), logSvc.Logger)
	if err != nil {
		return nil, fmt.Errorf("keyrotctl: failed to build storage: %w", err)
	}
	cfg.Storage = store

	pool, err := keyrot.NewPool(cfg, probeClassifier())
	if err != nil {
		return nil, fmt.Errorf("keyrotctl: failed to build pool: %w", err)
	}

	return &PoolService{Pool: pool}, nil
}

// Shutdown implements do.Shutdowner, stopping the Pool's dispatch loop
// when the container is torn down.
func (s *PoolService) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Pool.Shutdown(ctx)
}
