package configfile

import (
	"fmt"
	"strings"
)

// ValidationError collects every problem found while validating a File,
// so a caller sees all of them at once instead of fixing one typo per run.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configfile: invalid config: %s", e.Errors[0])
	}
	return fmt.Sprintf("configfile: invalid config with %d errors:\n  - %s",
		len(e.Errors), strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

func (e *ValidationError) hasErrors() bool {
	return len(e.Errors) > 0
}

var validQuotaKinds = map[string]bool{
	"":          true,
	"unlimited": true,
	"monthly":   true,
	"yearly":    true,
	"total":     true,
}

var validBackends = map[string]bool{
	"":          true,
	"memory":    true,
	"ristretto": true,
	"disk":      true,
}

// Validate checks a File for structural errors before it's ever handed
// to keyrot.NewPool: missing IDs, duplicate IDs, unknown quota kinds and
// storage backends, and out-of-range numeric fields.
func (f *File) Validate() error {
	errs := &ValidationError{}

	if len(f.Keys) == 0 {
		errs.add("keys: at least one key is required")
	}

	seen := make(map[string]bool, len(f.Keys))
	for i, k := range f.Keys {
		prefix := fmt.Sprintf("keys[%d]", i)
		if k.ID == "" {
			errs.add("%s.id is required", prefix)
		} else if seen[k.ID] {
			errs.add("duplicate key id %q", k.ID)
		}
		seen[k.ID] = true

		if k.Value == "" {
			errs.add("%s.value is required", prefix)
		}
		if !validQuotaKinds[strings.ToLower(k.QuotaKind)] {
			errs.add("%s.quota_kind is invalid (got %q, valid: unlimited, monthly, yearly, total)", prefix, k.QuotaKind)
		}
		if k.QuotaLimit < 0 {
			errs.add("%s.quota_limit must be >= 0", prefix)
		} else if quotaKinds[strings.ToLower(k.QuotaKind)].Bounded() && k.QuotaLimit == 0 {
			errs.add("%s.quota_limit must be > 0 for a bounded quota_kind", prefix)
		}
		if k.RPS < 0 {
			errs.add("%s.rps must be >= 0", prefix)
		}
		if k.Weight < 0 {
			errs.add("%s.weight must be >= 0", prefix)
		}
	}

	if f.MaxQueueSize < 0 {
		errs.add("max_queue_size must be >= 0")
	}
	if f.MaxRetries < 0 {
		errs.add("max_retries must be >= 0")
	}
	if f.FailureThreshold < 0 {
		errs.add("failure_threshold must be >= 0")
	}
	if f.WarningThreshold < 0 || f.WarningThreshold > 1 {
		errs.add("warning_threshold must be between 0 and 1")
	}
	if !validBackends[strings.ToLower(f.Storage.Backend)] {
		errs.add("storage.backend is invalid (got %q, valid: memory, ristretto, disk)", f.Storage.Backend)
	}
	if strings.ToLower(f.Storage.Backend) == "disk" && f.Storage.Path == "" {
		errs.add("storage.path is required for the disk backend")
	}

	if errs.hasErrors() {
		return errs
	}
	return nil
}
