// Package cache maps deterministic attribution keys to completed
// explanation artifacts. The orchestrator's attach-to-in-flight rule makes
// it effectively single-writer per key; Put is idempotent regardless.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/model"
)

// ErrCorrupted marks a stored artifact that failed schema validation on
// read. Callers treat it as a miss and recompute; a corrupt artifact is
// never served.
var ErrCorrupted = eris.New("cache: stored artifact failed validation")

// Key derives the deduplication key for an attribution request. Diagnostic
// config fields (CheckAdditivity) are deliberately excluded so they cannot
// cause spurious misses.
func Key(modelID string, method model.Method, scope model.Scope, cfg model.JobConfig) string {
	instance := -1
	if scope.Kind == model.ScopeLocal {
		instance = scope.Instance
	}
	payload := fmt.Sprintf("%s|%s|%s|%d|%d|%d|%d|%g",
		modelID, method, scope.Kind, instance,
		cfg.SampleSize, cfg.Permutations, cfg.Perturbations, cfg.KernelWidth,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Seed derives the provider RNG seed from a cache key, so identical
// requests draw identical samples.
func Seed(key string) uint64 {
	var seed uint64
	for i := 0; i < 8 && i < len(key); i++ {
		seed = seed<<8 | uint64(key[i])
	}
	return seed
}

// Cache is the dedup store contract. Get returns (nil, nil) on a miss.
// A hit increments the artifact's hit counter for observability.
type Cache interface {
	Get(ctx context.Context, key string) (*model.Explanation, error)
	Put(ctx context.Context, key string, exp *model.Explanation) error

	// Pin marks a key as referenced by an in-flight job; pinned keys are
	// exempt from eviction. Unpin releases the mark.
	Pin(key string)
	Unpin(key string)

	// Hits reports the total number of cache hits served.
	Hits() int64
}

// validate rejects artifacts that don't satisfy the explanation schema.
func validate(exp *model.Explanation) error {
	if exp == nil {
		return eris.Wrap(ErrCorrupted, "nil artifact")
	}
	if exp.ID == "" || exp.ModelID == "" {
		return eris.Wrap(ErrCorrupted, "missing identity")
	}
	if exp.Method != model.MethodSHAP && exp.Method != model.MethodLIME {
		return eris.Wrapf(ErrCorrupted, "unknown method %q", exp.Method)
	}
	if len(exp.Contributions) == 0 {
		return eris.Wrap(ErrCorrupted, "empty contributions")
	}
	return nil
}
