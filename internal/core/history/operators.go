package history

import "github.com/shopspring/decimal"

// Statistic operators folded over a parameter's numeric observations.
const (
	OpCount = "count"
	OpSum   = "sum"
	OpMin   = "min"
	OpMax   = "max"
)

// Aggregator defines the reduce semantics of one summary statistic.
type Aggregator interface {
	// Initial returns the aggregate after the first observation.
	Initial(incoming decimal.Decimal) decimal.Decimal

	// Apply folds another observation into an existing aggregate.
	Apply(current, incoming decimal.Decimal) decimal.Decimal
}

// Operators is the registry of summary statistics computed per parameter.
// avg is derived from sum and count rather than folded.
var Operators = map[string]Aggregator{
	OpCount: countAgg{},
	OpSum:   sumAgg{},
	OpMin:   minAgg{},
	OpMax:   maxAgg{},
}

// statOrder fixes the fold order so results never depend on map iteration.
var statOrder = []string{OpCount, OpSum, OpMin, OpMax}

type countAgg struct{}

func (countAgg) Initial(_ decimal.Decimal) decimal.Decimal    { return decimal.NewFromInt(1) }
func (countAgg) Apply(cur, _ decimal.Decimal) decimal.Decimal { return cur.Add(decimal.NewFromInt(1)) }

type sumAgg struct{}

func (sumAgg) Initial(v decimal.Decimal) decimal.Decimal      { return v }
func (sumAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal { return cur.Add(inc) }

type minAgg struct{}

func (minAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (minAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.LessThan(cur) {
		return inc
	}
	return cur
}

type maxAgg struct{}

func (maxAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (maxAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.GreaterThan(cur) {
		return inc
	}
	return cur
}

// statState accumulates every operator for one parameter.
type statState map[string]decimal.Decimal

func (s statState) observe(v decimal.Decimal) {
	for _, op := range statOrder {
		agg := Operators[op]
		cur, ok := s[op]
		if !ok {
			s[op] = agg.Initial(v)
			continue
		}
		s[op] = agg.Apply(cur, v)
	}
}

func (s statState) result() ParameterStats {
	count := s[OpCount]
	sum := s[OpSum]
	avg := decimal.Zero
	if count.IsPositive() {
		avg = sum.DivRound(count, 8).Round(4)
	}
	return ParameterStats{
		Count: count.IntPart(),
		Min:   s[OpMin].InexactFloat64(),
		Max:   s[OpMax].InexactFloat64(),
		Avg:   avg.InexactFloat64(),
		Sum:   sum.InexactFloat64(),
	}
}
