// Package order builds venue order tickets from configuration, including the
// default parameter sets for the venue's algo strategies.
package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// InvalidAlgoError reports an algo name the venue does not offer.
type InvalidAlgoError struct {
	Algo string
}

func (e *InvalidAlgoError) Error() string {
	return fmt.Sprintf("order: invalid algo %q, valid options are %s", e.Algo, strings.Join(AlgoNames(), ", "))
}

// algo is a strategy's venue name and its default parameters, in send order.
type algo struct {
	strategy string
	defaults []domain.TagValue
}

var (
	usEasternSession = []domain.TagValue{
		{Tag: "startTime", Value: "09:30:00 US/Eastern"},
		{Tag: "endTime", Value: "16:00:00 US/Eastern"},
	}

	algos = map[string]algo{
		"Adaptive": {strategy: "Adaptive", defaults: []domain.TagValue{
			{Tag: "adaptivePriority", Value: "Normal"},
		}},
		"PctVol": {strategy: "PctVol", defaults: []domain.TagValue{
			{Tag: "pctVol", Value: "0.1"},
			{Tag: "noTakeLiq", Value: "1"},
		}},
		"ArrivalPrice": {strategy: "ArrivalPx", defaults: []domain.TagValue{
			{Tag: "maxPctVol", Value: "0.1"},
			{Tag: "riskAversion", Value: "Medium"},
		}},
		"ClosePrice": {strategy: "ClosePx", defaults: []domain.TagValue{
			{Tag: "startTime", Value: "15:00:00 US/Eastern"},
		}},
		"Midprice": {strategy: "Midprice", defaults: []domain.TagValue{
			{Tag: "midOffsetPct", Value: "0.5"},
		}},
		"DarkIce": {strategy: "DarkIce", defaults: append(append([]domain.TagValue{}, usEasternSession...),
			domain.TagValue{Tag: "displaySize", Value: "100"},
		)},
		"AccumulateDistribute": {strategy: "Accumulate/Distribute", defaults: []domain.TagValue{
			{Tag: "maxPctVol", Value: "0.2"},
		}},
		"TWAP": {strategy: "TWAP", defaults: usEasternSession},
		"VWAP": {strategy: "VWAP", defaults: usEasternSession},
		"PriceVariantPctVol": {strategy: "PctVol", defaults: []domain.TagValue{
			{Tag: "priceVariant", Value: "Yes"},
		}},
		"SizeVariantPctVol": {strategy: "PctVol", defaults: []domain.TagValue{
			{Tag: "sizeVariant", Value: "Yes"},
		}},
		"TimeVariantPctVol": {strategy: "PctVol", defaults: []domain.TagValue{
			{Tag: "timeVariant", Value: "Yes"},
		}},
		"BalanceImpactRisk": {strategy: "BalanceImpactRisk", defaults: []domain.TagValue{
			{Tag: "riskTolerance", Value: "Low"},
		}},
		"MinimiseImpact": {strategy: "MinimiseImpact", defaults: []domain.TagValue{
			{Tag: "urgent", Value: "Yes"},
		}},
	}
)

// AlgoNames lists the accepted algo names, sorted.
func AlgoNames() []string {
	names := make([]string, 0, len(algos))
	for name := range algos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupAlgo(name string) (algo, bool) {
	if a, ok := algos[name]; ok {
		return a, true
	}
	for key, a := range algos {
		if strings.EqualFold(key, name) {
			return a, true
		}
	}
	return algo{}, false
}

// FillAlgoParams sets o's algo strategy and parameters. An empty name clears
// them. overrides replace defaults tag by tag; tags the algo has no default
// for are appended in key order.
func FillAlgoParams(o *domain.Order, name string, overrides map[string]string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		o.AlgoStrategy = ""
		o.AlgoParams = nil
		return nil
	}
	a, ok := lookupAlgo(name)
	if !ok {
		return &InvalidAlgoError{Algo: name}
	}

	params := make([]domain.TagValue, 0, len(a.defaults)+len(overrides))
	seen := make(map[string]bool, len(a.defaults))
	for _, tv := range a.defaults {
		if v, ok := overrides[tv.Tag]; ok {
			tv.Value = v
		}
		seen[tv.Tag] = true
		params = append(params, tv)
	}

	extra := make([]string, 0, len(overrides))
	for tag := range overrides {
		if !seen[tag] {
			extra = append(extra, tag)
		}
	}
	sort.Strings(extra)
	for _, tag := range extra {
		params = append(params, domain.TagValue{Tag: tag, Value: overrides[tag]})
	}

	o.AlgoStrategy = a.strategy
	o.AlgoParams = params
	return nil
}
