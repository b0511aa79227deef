package arbitrage

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"triarb/internal/model"
)

// opportunityNamespace seeds deterministic opportunity IDs.
var opportunityNamespace = uuid.MustParse("6f1c2a52-31a4-4c55-9a0e-2d4f3b1f7e10")

// Rank keeps cycles whose profit is strictly above thresholdPercent, orders
// them by descending profit and truncates to maxResults when it is positive.
// Ties break on the currency path, then forward orientation first, so identical
// input always yields identical output.
func Rank(cycles []model.Cycle, exchange string, thresholdPercent float64, maxResults int, detectedAt time.Time) []model.Opportunity {
	kept := make([]model.Cycle, 0, len(cycles))
	for _, c := range cycles {
		if c.ProfitPercent > thresholdPercent {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.ProfitPercent != b.ProfitPercent {
			return a.ProfitPercent > b.ProfitPercent
		}
		if ka, kb := a.Key(), b.Key(); ka != kb {
			return ka < kb
		}
		return !a.Reversed && b.Reversed
	})
	if maxResults > 0 && len(kept) > maxResults {
		kept = kept[:maxResults]
	}

	opps := make([]model.Opportunity, 0, len(kept))
	for i, c := range kept {
		opps = append(opps, model.Opportunity{
			ID:            opportunityID(exchange, c, detectedAt),
			Exchange:      exchange,
			Cycle:         c,
			ProfitPercent: c.ProfitPercent,
			Rank:          i + 1,
			DetectedAt:    detectedAt,
		})
	}
	return opps
}

func opportunityID(exchange string, c model.Cycle, at time.Time) string {
	name := exchange + "|" + c.Key() + "|" + strconv.FormatBool(c.Reversed) + "|" + strconv.FormatInt(at.UnixNano(), 10)
	return uuid.NewSHA1(opportunityNamespace, []byte(name)).String()
}
