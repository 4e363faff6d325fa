package stats

import (
	"context"

	"github.com/verte-zerg/skillcast/internal/model"
)

// Source provides journaled runs and casts.
type Source interface {
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.RunAggregate, error)
	SkillAggregates(ctx context.Context, runIDs []string) ([]model.SkillAggregate, error)
}

// Report contains precomputed data for stats rendering.
type Report struct {
	Runs   []model.RunAggregate
	Skills []model.SkillAggregate
}

// BuildReport loads and prepares data for stats rendering.
func BuildReport(ctx context.Context, src Source, filter model.RunFilter) (Report, error) {
	runs, err := src.ListRuns(ctx, filter)
	if err != nil {
		return Report{}, err
	}
	if filter.Last > 0 && len(runs) > filter.Last {
		runs = runs[len(runs)-filter.Last:]
	}
	skills, err := src.SkillAggregates(ctx, runIDs(runs))
	if err != nil {
		return Report{}, err
	}
	return Report{Runs: runs, Skills: skills}, nil
}

func runIDs(runs []model.RunAggregate) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.RunID
	}
	return ids
}
