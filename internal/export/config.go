package export

import (
	"context"
	"strconv"
)

// ErrorPolicy governs how an export reacts to per-entity fetch/serialize
// failures (§4.3).
type ErrorPolicy string

const (
	// PolicyStrict aborts the export on any error.
	PolicyStrict ErrorPolicy = "strict"
	// PolicyBestEffort records per-entity failures and proceeds.
	PolicyBestEffort ErrorPolicy = "best-effort"
	// PolicyPartial behaves like best-effort; kept distinct since callers
	// report it differently.
	PolicyPartial ErrorPolicy = "partial"
	// PolicyRequiredCore aborts on issue-level errors but tolerates
	// dependency/label/comment errors.
	PolicyRequiredCore ErrorPolicy = "required-core"
)

// IsValid reports whether p is one of the four recognized policies.
func (p ErrorPolicy) IsValid() bool {
	switch p {
	case PolicyStrict, PolicyBestEffort, PolicyPartial, PolicyRequiredCore:
		return true
	default:
		return false
	}
}

// Defaults applied when a config key is absent or its stored value fails to
// parse.
const (
	DefaultErrorPolicy        = PolicyStrict
	DefaultRetryAttempts      = 3
	DefaultRetryBackoffMS     = 100
	DefaultSkipEncodingErrors = false
	DefaultWriteManifest      = false
)

// Config keys read from the storage-backed config table.
const (
	ConfigKeyErrorPolicy       = "export.error_policy"
	ConfigKeyAutoExportPolicy  = "export.auto_export_policy"
	ConfigKeyRetryAttempts     = "export.retry_attempts"
	ConfigKeyRetryBackoffMS    = "export.retry_backoff_ms"
	ConfigKeySkipEncodingErrors = "export.skip_encoding_errors"
	ConfigKeyWriteManifest     = "export.write_manifest"
)

// ConfigStore is the minimal config-table dependency export needs; satisfied
// by storage.Storage.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// Config is the resolved set of knobs governing one export invocation.
type Config struct {
	Policy             ErrorPolicy
	RetryAttempts      int
	RetryBackoffMS     int
	SkipEncodingErrors bool
	WriteManifest      bool
	IsAutoExport       bool
}

// LoadConfig reads export settings from store, falling back silently to
// compiled-in defaults for any key that is absent, unparsable, or
// out-of-range. When isAutoExport is true, ConfigKeyAutoExportPolicy is
// consulted first for the error policy, falling back to the general key.
func LoadConfig(ctx context.Context, store ConfigStore, isAutoExport bool) (*Config, error) {
	cfg := &Config{
		Policy:             DefaultErrorPolicy,
		RetryAttempts:      DefaultRetryAttempts,
		RetryBackoffMS:     DefaultRetryBackoffMS,
		SkipEncodingErrors: DefaultSkipEncodingErrors,
		WriteManifest:      DefaultWriteManifest,
		IsAutoExport:       isAutoExport,
	}

	policyKey := ConfigKeyErrorPolicy
	if isAutoExport {
		if v, err := store.GetConfig(ctx, ConfigKeyAutoExportPolicy); err != nil {
			return nil, err
		} else if v != "" {
			policyKey = ConfigKeyAutoExportPolicy
		}
	}
	if v, err := store.GetConfig(ctx, policyKey); err != nil {
		return nil, err
	} else if p := ErrorPolicy(v); p.IsValid() {
		cfg.Policy = p
	}

	if v, err := store.GetConfig(ctx, ConfigKeyRetryAttempts); err != nil {
		return nil, err
	} else if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		cfg.RetryAttempts = n
	}

	if v, err := store.GetConfig(ctx, ConfigKeyRetryBackoffMS); err != nil {
		return nil, err
	} else if n, err := strconv.Atoi(v); err == nil && n > 0 {
		cfg.RetryBackoffMS = n
	}

	if v, err := store.GetConfig(ctx, ConfigKeySkipEncodingErrors); err != nil {
		return nil, err
	} else if b, err := strconv.ParseBool(v); err == nil {
		cfg.SkipEncodingErrors = b
	}

	if v, err := store.GetConfig(ctx, ConfigKeyWriteManifest); err != nil {
		return nil, err
	} else if b, err := strconv.ParseBool(v); err == nil {
		cfg.WriteManifest = b
	}

	return cfg, nil
}
