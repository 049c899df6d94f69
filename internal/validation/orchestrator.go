// Package validation runs the clinical check battery against the
// validation service. Checks are independent: each runs in its own
// goroutine, a failed call is logged and omitted, and the verdict is
// aggregated only over the checks that actually answered.
package validation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/checks"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
)

// OverallStatus summarizes a battery run. Total counts only the checks
// that returned; a check whose call failed is not a clinical verdict.
type OverallStatus struct {
	Passed  int  `json:"passed"`
	Total   int  `json:"total"`
	IsValid bool `json:"isValid"`
}

// BatteryResult is the outcome of one battery run
type BatteryResult struct {
	Results []checks.Result `json:"results"`
	Status  OverallStatus   `json:"status"`
	RanAt   time.Time       `json:"ranAt"`
}

// Orchestrator coordinates clinical checks
type Orchestrator struct {
	adapter checks.Adapter
	timeout time.Duration
}

// NewOrchestrator creates an orchestrator with a per-battery timeout
func NewOrchestrator(adapter checks.Adapter, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{adapter: adapter, timeout: timeout}
}

type batteryCheck struct {
	kind checks.Kind
	run  func(context.Context, checks.BatteryInput) (*checks.Result, error)
}

func (o *Orchestrator) battery() []batteryCheck {
	return []batteryCheck{
		{checks.KindInteractions, o.adapter.CheckInteractions},
		{checks.KindDosage, o.adapter.CheckDosage},
		{checks.KindAllergies, o.adapter.CheckAllergies},
		{checks.KindContraindications, o.adapter.CheckContraindications},
		{checks.KindDuplicateTherapy, o.adapter.CheckDuplicateTherapy},
	}
}

// RunBattery runs the standard checks concurrently and aggregates the
// answers. It never fails as a whole: an unreachable check drops out of
// the aggregation and the remaining verdicts stand on their own.
func (o *Orchestrator) RunBattery(ctx context.Context, in checks.BatteryInput) *BatteryResult {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	battery := o.battery()
	slots := make([]*checks.Result, len(battery))

	var wg sync.WaitGroup
	for i, c := range battery {
		wg.Add(1)
		go func(i int, c batteryCheck) {
			defer wg.Done()
			res, err := c.run(ctx, in)
			if err != nil {
				slog.Warn("clinical check did not answer",
					"check", c.kind,
					"patient_id", in.PatientID,
					"error", err)
				metrics.RecordValidationCheck(string(c.kind), "omitted")
				return
			}
			if res.Valid {
				metrics.RecordValidationCheck(string(c.kind), "passed")
			} else {
				metrics.RecordValidationCheck(string(c.kind), "failed")
			}
			slots[i] = res
		}(i, c)
	}
	wg.Wait()

	// Slots keep the battery order stable regardless of answer order.
	results := make([]checks.Result, 0, len(battery))
	passed := 0
	for _, res := range slots {
		if res == nil {
			continue
		}
		results = append(results, *res)
		if res.Valid {
			passed++
		}
	}

	status := OverallStatus{
		Passed:  passed,
		Total:   len(results),
		IsValid: len(results) > 0 && passed == len(results),
	}
	slog.Info("clinical check battery finished",
		"patient_id", in.PatientID,
		"passed", status.Passed,
		"total", status.Total,
		"omitted", len(battery)-len(results))

	return &BatteryResult{Results: results, Status: status, RanAt: time.Now()}
}

// On-demand checks requested individually from the review screen. Unlike
// the battery these surface their transport errors to the caller.

func (o *Orchestrator) CheckOrganFunction(ctx context.Context, in checks.OrganFunctionInput) (*checks.Result, error) {
	return o.single(ctx, checks.KindOrganFunction, func(ctx context.Context) (*checks.Result, error) {
		return o.adapter.CheckOrganFunction(ctx, in)
	})
}

func (o *Orchestrator) CheckPregnancySafety(ctx context.Context, in checks.BatteryInput) (*checks.Result, error) {
	return o.single(ctx, checks.KindPregnancySafety, func(ctx context.Context) (*checks.Result, error) {
		return o.adapter.CheckPregnancySafety(ctx, in)
	})
}

func (o *Orchestrator) CheckResistancePattern(ctx context.Context, in checks.ResistanceInput) (*checks.Result, error) {
	return o.single(ctx, checks.KindResistancePattern, func(ctx context.Context) (*checks.Result, error) {
		return o.adapter.CheckResistancePattern(ctx, in)
	})
}

func (o *Orchestrator) CheckAdherence(ctx context.Context, in checks.AdherenceInput) (*checks.Result, error) {
	return o.single(ctx, checks.KindAdherence, func(ctx context.Context) (*checks.Result, error) {
		return o.adapter.CheckAdherence(ctx, in)
	})
}

func (o *Orchestrator) single(ctx context.Context, kind checks.Kind, run func(context.Context) (*checks.Result, error)) (*checks.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := run(ctx)
	if err != nil {
		metrics.RecordValidationCheck(string(kind), "omitted")
		return nil, err
	}
	if res.Valid {
		metrics.RecordValidationCheck(string(kind), "passed")
	} else {
		metrics.RecordValidationCheck(string(kind), "failed")
	}
	return res, nil
}
