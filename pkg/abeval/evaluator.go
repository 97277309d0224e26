package abeval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"mercator-hq/objectives/pkg/telemetry/tracing"
	"mercator-hq/objectives/pkg/variants"
)

const tracerName = "mercator-hq/objectives/pkg/abeval"

// Observer receives evaluation telemetry. A nil Observer is allowed.
type Observer interface {
	// ObserveEvaluation is called once per successful Run.
	ObserveEvaluation(objectiveID string, out *Output, duration time.Duration)

	// ObserveScoringFailure is called for each variant whose scorer failed.
	ObserveScoringFailure(objectiveID, variantID string)
}

// EvaluatorConfig configures an Evaluator.
type EvaluatorConfig struct {
	// MaxParallel bounds concurrent scorer calls within one Run. Zero or
	// negative means one goroutine per variant.
	MaxParallel int

	Logger         *slog.Logger
	Observer       Observer
	TracerProvider trace.TracerProvider
}

// Evaluator runs A/B evaluation passes. It holds no per-run state and is
// safe for concurrent use.
type Evaluator struct {
	scorer      Scorer
	maxParallel int
	logger      *slog.Logger
	observer    Observer
	tracer      trace.Tracer
}

// NewEvaluator creates an evaluator that scores variants with scorer.
func NewEvaluator(scorer Scorer, cfg EvaluatorConfig) *Evaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Evaluator{
		scorer:      scorer,
		maxParallel: cfg.MaxParallel,
		logger:      logger.With("component", "abeval.evaluator"),
		observer:    cfg.Observer,
		tracer:      tp.Tracer(tracerName),
	}
}

// Run evaluates every variant in the input registry against the evidence.
//
// The registry must contain at least one variant. When it has no active
// variant, results are still produced but divergence and upgrade checks
// are skipped. A scorer failure for any variant fails the whole run with a
// *ScoringError.
func (e *Evaluator) Run(ctx context.Context, in *Input) (*Output, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	reg := in.Registry

	ctx, span := e.tracer.Start(ctx, "abeval.Run",
		trace.WithAttributes(tracing.EvaluationAttributes(in.RunID, reg.ObjectiveID, len(reg.Variants))...))
	defer span.End()

	start := time.Now()
	logger := e.logger.With("run_id", in.RunID, "objective_id", reg.ObjectiveID)

	results, err := e.scoreAll(ctx, in)
	if err != nil {
		tracing.SetError(span, err)
		logger.ErrorContext(ctx, "evaluation failed", "error", err)
		return nil, err
	}

	out := &Output{
		RunID:           in.RunID,
		ObjectiveID:     reg.ObjectiveID,
		RoutedVariantID: variants.RouteToVariant(in.RunID, reg).VariantID,
		VariantResults:  results,
	}
	compareShadows(out, in)

	tracing.SetEvaluationAttributes(span, out.RoutedVariantID, out.DivergenceDetected, out.UpgradeReady)
	if out.DivergenceDetected {
		logger.InfoContext(ctx, "divergence detected", "variants", out.DivergentVariantIDs)
	}
	if out.UpgradeReady {
		logger.InfoContext(ctx, "shadow variant upgrade-ready", "variants", out.UpgradeReadyVariantIDs)
	}
	if e.observer != nil {
		e.observer.ObserveEvaluation(reg.ObjectiveID, out, time.Since(start))
	}
	return out, nil
}

// scoreAll scores each variant in its own goroutine. Results are written to
// distinct slice indexes, so registry order is kept without locking.
func (e *Evaluator) scoreAll(ctx context.Context, in *Input) ([]variants.VariantEvaluationResult, error) {
	reg := in.Registry
	results := make([]variants.VariantEvaluationResult, len(reg.Variants))

	g, gctx := errgroup.WithContext(ctx)
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, v := range reg.Variants {
		g.Go(func() error {
			res, err := e.scorer.Score(gctx, v, in.Evidence)
			if err == nil && res == nil {
				err = fmt.Errorf("scorer returned no result")
			}
			if err != nil {
				if e.observer != nil {
					e.observer.ObserveScoringFailure(reg.ObjectiveID, v.VariantID)
				}
				return &ScoringError{RunID: in.RunID, VariantID: v.VariantID, Cause: err}
			}
			results[i] = normalizeResult(*res, v)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// normalizeResult stamps the variant's identity onto a scorer result and
// enforces that only the active variant drives policy state.
func normalizeResult(res variants.VariantEvaluationResult, v variants.ObjectiveVariant) variants.VariantEvaluationResult {
	res.VariantID = v.VariantID
	res.ObjectiveID = v.ObjectiveID
	res.ObjectiveVersion = v.ObjectiveVersion
	res.Role = v.Role
	res.DrivesPolicyState = v.Role == variants.RoleActive
	return res
}

func compareShadows(out *Output, in *Input) {
	active, ok := out.ActiveResult()
	if !ok {
		return
	}
	reg := in.Registry
	for _, res := range out.VariantResults {
		if res.Role != variants.RoleShadow {
			continue
		}
		if variants.DetectDivergence(active, res, reg.DivergenceThreshold) {
			out.DivergenceDetected = true
			out.DivergentVariantIDs = append(out.DivergentVariantIDs, res.VariantID)
		}
		runs := in.RunCountByVariant[res.VariantID]
		wins := in.ShadowWinCountByVariant[res.VariantID]
		if variants.CheckUpgradeReady(runs, wins, reg) {
			out.UpgradeReady = true
			out.UpgradeReadyVariantID = res.VariantID
			out.UpgradeReadyVariantIDs = append(out.UpgradeReadyVariantIDs, res.VariantID)
		}
	}
}

func validateInput(in *Input) error {
	switch {
	case in == nil:
		return fmt.Errorf("%w: nil input", ErrInvalidInput)
	case in.RunID == "":
		return fmt.Errorf("%w: run_id is required", ErrInvalidInput)
	case in.Registry == nil:
		return fmt.Errorf("%w: registry is required", ErrInvalidInput)
	case len(in.Registry.Variants) == 0:
		return fmt.Errorf("%w: registry %q has no variants", ErrInvalidInput, in.Registry.ObjectiveID)
	case in.Evidence == nil:
		return fmt.Errorf("%w: evidence bundle is required", ErrInvalidInput)
	}
	return nil
}
