// Package resolver maps a step's selector to a single live element, healing
// around markup drift with fingerprint matching when the selector no longer
// matches anything.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/fingerprint"
)

var (
	// ErrElementNotFound means the target is absent from the page. Steps that
	// end with it are FAILED rather than ERROR.
	ErrElementNotFound = errors.New("element not found")
	// ErrNoReference means the selector missed and there was nothing to heal from.
	ErrNoReference = fmt.Errorf("%w: no reference fingerprint", ErrElementNotFound)
)

// DefaultThreshold is the minimum score a substitute must reach.
const DefaultThreshold = 0.5

const defaultCandidateLimit = 200

// Options tunes the healing policy.
type Options struct {
	// Threshold is inclusive: a candidate scoring exactly Threshold is accepted.
	Threshold      float64
	CandidateLimit int
	Disabled       bool
}

// DefaultOptions returns healing enabled with the default threshold.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, CandidateLimit: defaultCandidateLimit}
}

// Resolution is the element chosen for a step.
type Resolution struct {
	Handle schemas.ElementHandle
	Healed bool
	// Score is only meaningful when Healed is set.
	Score float64
	// Candidates is the number of same-tag elements evaluated while healing.
	Candidates int
	Info       string
}

// Resolver is safe for concurrent use as long as the reference store is.
type Resolver struct {
	opts   Options
	refs   schemas.FingerprintStore
	logger *zap.Logger
}

// New creates a resolver. refs may be nil, in which case only fingerprints
// recorded inline on the step can be used for healing.
func New(opts Options, refs schemas.FingerprintStore, logger *zap.Logger) *Resolver {
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = defaultCandidateLimit
	}
	return &Resolver{
		opts:   opts,
		refs:   refs,
		logger: logger.Named("resolver"),
	}
}

// Threshold returns the acceptance floor in use.
func (r *Resolver) Threshold() float64 { return r.opts.Threshold }

// Resolve finds the element step targets. Driver failures are returned as is;
// an absent element yields an error wrapping ErrElementNotFound.
func (r *Resolver) Resolve(ctx context.Context, drv schemas.Driver, scenarioID string, step schemas.Step) (Resolution, error) {
	if step.Selector == "" {
		return Resolution{}, fmt.Errorf("step %s has no selector", step.Type)
	}

	// 1. Literal selector.
	handles, err := drv.QueryBySelector(ctx, step.Selector)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to query selector %q: %w", step.Selector, err)
	}

	switch n := len(handles); {
	case n == 1:
		return Resolution{Handle: handles[0]}, nil
	case n > 1:
		// Ambiguity is not a failure; document order makes the choice repeatable.
		r.logger.Debug("Selector is ambiguous, using first match.",
			zap.String("selector", step.Selector), zap.Int("matches", n))
		return Resolution{
			Handle: handles[0],
			Info:   fmt.Sprintf("selector matched %d elements; using the first in document order", n),
		}, nil
	}

	if r.opts.Disabled {
		return Resolution{}, fmt.Errorf("%w: %q matched nothing and healing is disabled", ErrElementNotFound, step.Selector)
	}

	// 2. Heal from the reference fingerprint.
	return r.heal(ctx, drv, scenarioID, step)
}

func (r *Resolver) heal(ctx context.Context, drv schemas.Driver, scenarioID string, step schemas.Step) (Resolution, error) {
	ref := r.reference(ctx, scenarioID, step)
	if ref == nil {
		return Resolution{}, fmt.Errorf("%w for %q", ErrNoReference, step.Selector)
	}

	candidates, err := drv.QueryCandidatesByTag(ctx, ref.TagName, r.opts.CandidateLimit)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to enumerate <%s> candidates: %w", ref.TagName, err)
	}

	best, bestScore, evaluated := -1, 0.0, 0
	for i, c := range candidates {
		if c.Fingerprint.Validate() != nil {
			continue
		}
		evaluated++
		// Strictly greater keeps the earliest candidate on ties.
		if s := fingerprint.Score(*ref, c.Fingerprint); s > bestScore {
			best, bestScore = i, s
		}
	}

	if best < 0 || bestScore < r.opts.Threshold {
		r.logger.Info("Healing found no acceptable substitute.",
			zap.String("selector", step.Selector),
			zap.Int("candidates", evaluated),
			zap.Float64("best_score", bestScore),
			zap.Float64("threshold", r.opts.Threshold))
		return Resolution{}, fmt.Errorf("%w: %q matched nothing and the best of %d <%s> candidates scored %.2f (threshold %.2f)",
			ErrElementNotFound, step.Selector, evaluated, ref.TagName, bestScore, r.opts.Threshold)
	}

	r.logger.Info("Healed selector with fingerprint match.",
		zap.String("selector", step.Selector),
		zap.Int("candidates", evaluated),
		zap.Float64("score", bestScore))

	return Resolution{
		Handle:     candidates[best].Handle,
		Healed:     true,
		Score:      bestScore,
		Candidates: evaluated,
		Info: fmt.Sprintf("selector %q matched nothing; substituted <%s> candidate %d of %d (score %.2f)",
			step.Selector, ref.TagName, best+1, len(candidates), bestScore),
	}, nil
}

// reference prefers the last known good fingerprint and falls back to the one
// recorded on the step. Store errors degrade to the fallback.
func (r *Resolver) reference(ctx context.Context, scenarioID string, step schemas.Step) *schemas.ElementFingerprint {
	if r.refs != nil {
		fp, err := r.refs.LoadFingerprint(ctx, scenarioID, step.Selector)
		switch {
		case err != nil:
			r.logger.Warn("Could not load last known good fingerprint.", zap.String("selector", step.Selector), zap.Error(err))
		case fp != nil && fp.Validate() == nil:
			return fp
		}
	}
	if step.Fingerprint != nil && step.Fingerprint.Validate() == nil {
		return step.Fingerprint
	}
	return nil
}
