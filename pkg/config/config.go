// Package config loads the tunable limits the RequestContext, the
// transaction manager, and the storage substrate enforce, so the literal
// numbers in spec.md are defaults rather than compiled-in constants.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Limits holds every numeric bound named in spec.md.
type Limits struct {
	// RequestContext (spec.md §4.6 / §3 "RequestContext")
	ExternalSubrequestLimitBundled int  `yaml:"external_subrequest_limit_bundled"`
	ExternalSubrequestLimitUnbound int  `yaml:"external_subrequest_limit_unbound"`
	MaxPipelineDepth               int  `yaml:"max_pipeline_depth"`
	MaxRequestDepth                int  `yaml:"max_request_depth"`
	BlockGlobalAsyncIO             bool `yaml:"block_global_async_io"`
	SimulatedTimeStepMillis        int  `yaml:"simulated_time_step_millis"`

	// Durable Object storage / transaction boundary (spec.md §4.2)
	MaxKeyBytes       int `yaml:"max_key_bytes"`
	MaxValueBytes     int `yaml:"max_value_bytes"`
	MaxBatchKeys      int `yaml:"max_batch_keys"`
	TransactionWindow int `yaml:"transaction_window"` // retained write-sets (spec.md "bounded history")
	MaxRetries        int `yaml:"max_retries"`

	// KV namespace engine (spec.md §4.5)
	KVMaxKeyBytes      int `yaml:"kv_max_key_bytes"`
	KVMaxValueBytes    int `yaml:"kv_max_value_bytes"`
	KVMaxMetadataBytes int `yaml:"kv_max_metadata_bytes"`
	KVMinExpirationTTL int `yaml:"kv_min_expiration_ttl"`
	KVMaxListLimit     int `yaml:"kv_max_list_limit"`
	KVDefaultListLimit int `yaml:"kv_default_list_limit"`
}

// Default returns the limits spec.md states literally.
func Default() Limits {
	return Limits{
		ExternalSubrequestLimitBundled: 50,
		ExternalSubrequestLimitUnbound: 1000,
		MaxPipelineDepth:               32,
		MaxRequestDepth:                16,
		BlockGlobalAsyncIO:             true,
		SimulatedTimeStepMillis:        1,

		MaxKeyBytes:       2 * 1024,
		MaxValueBytes:     32 * 1024,
		MaxBatchKeys:      128,
		TransactionWindow: 16,
		MaxRetries:        64,

		KVMaxKeyBytes:      512,
		KVMaxValueBytes:    25 * 1024 * 1024,
		KVMaxMetadataBytes: 1024,
		KVMinExpirationTTL: 60,
		KVMaxListLimit:     1000,
		KVDefaultListLimit: 1000,
	}
}

// Load reads Limits from a YAML file at path, filling unset fields with
// Default()'s values so a partial override file is valid.
func Load(path string) (Limits, error) {
	l := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Decode into the defaulted struct so fields absent from the YAML
	// keep their defaults; a field present in the file, even with a zero
	// value, overrides its default.
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Limits{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return l, nil
}
