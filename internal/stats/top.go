package stats

import (
	"sort"

	"github.com/verte-zerg/skillcast/internal/model"
)

// TopSkillsByCasts returns the top N skill aggregates by cast count.
func TopSkillsByCasts(aggs []model.SkillAggregate, n int) []model.SkillAggregate {
	if n <= 0 || len(aggs) == 0 {
		return nil
	}
	items := make([]model.SkillAggregate, len(aggs))
	copy(items, aggs)
	sort.Slice(items, func(i, j int) bool {
		if items[i].Casts == items[j].Casts {
			if items[i].Skill == items[j].Skill {
				return items[i].Profile < items[j].Profile
			}
			return items[i].Skill < items[j].Skill
		}
		return items[i].Casts > items[j].Casts
	})
	if n > len(items) {
		n = len(items)
	}
	return items[:n]
}
