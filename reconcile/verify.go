package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/metrics"
)

// =============================================================================
// VERIFIER - Live re-derivation of lifetime totals
// =============================================================================

// Verifier compares every stored lifetime value of an item against fresh
// sums of its year-to-date, monthly and daily records. It only reads.
// A disagreement is a Finding, never an error.
type Verifier struct {
	Store   aggregate.AggregateStore
	Log     logrus.FieldLogger
	Metrics *metrics.Recorder
}

func NewVerifier(store aggregate.AggregateStore, log logrus.FieldLogger, m *metrics.Recorder) *Verifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Verifier{Store: store, Log: log, Metrics: m}
}

// verifiedLevels are re-derived for every lifetime record, in report order.
var verifiedLevels = []aggregate.Granularity{aggregate.YearToDate, aggregate.Monthly, aggregate.Daily}

// Finding is the check of one lifetime record.
type Finding struct {
	User       string                                    `json:"user" yaml:"user"`
	DataKind   aggregate.DataKind                        `json:"data_kind" yaml:"data_kind"`
	Lifetime   decimal.Decimal                           `json:"lifetime" yaml:"lifetime"`
	Totals     map[aggregate.Granularity]decimal.Decimal `json:"totals" yaml:"totals"`
	Mismatched []aggregate.Granularity                   `json:"mismatched,omitempty" yaml:"mismatched,omitempty"`
}

func (f Finding) Mismatch() bool { return len(f.Mismatched) > 0 }

// Verification is the outcome for one item.
type Verification struct {
	ItemID   string    `json:"item_id" yaml:"item_id"`
	Findings []Finding `json:"findings" yaml:"findings"`
}

func (v Verification) Mismatches() int {
	n := 0
	for _, f := range v.Findings {
		if f.Mismatch() {
			n++
		}
	}
	return n
}

// Verify checks every lifetime record owned by itemID. Store errors are
// returned; mismatches are recorded on the findings.
func (v *Verifier) Verify(ctx context.Context, itemID string) (Verification, error) {
	out := Verification{ItemID: itemID}
	ref := aggregate.ItemRef(itemID)

	lifetimes, err := v.Store.FindAggregates(ctx, aggregate.Filter{
		Reference:   ref,
		Granularity: aggregate.Lifetime,
	})
	if err != nil {
		return out, fmt.Errorf("find lifetime aggregates: %w", err)
	}

	byUser := make(map[string][]aggregate.Record)
	for _, l := range lifetimes {
		byUser[l.User] = append(byUser[l.User], l)
	}
	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	for _, user := range users {
		records := byUser[user]
		sort.Slice(records, func(i, j int) bool { return records[i].DataKind < records[j].DataKind })
		for _, l := range records {
			f, err := v.check(ctx, ref, l)
			if err != nil {
				return out, err
			}
			if f.Mismatch() {
				v.Log.WithFields(logrus.Fields{
					"item_id":    itemID,
					"user":       f.User,
					"data_kind":  f.DataKind,
					"lifetime":   f.Lifetime.String(),
					"mismatched": f.Mismatched,
				}).Warn("lifetime totals do not match")
			}
			out.Findings = append(out.Findings, f)
		}
	}
	v.Metrics.Mismatches(out.Mismatches())
	return out, nil
}

func (v *Verifier) check(ctx context.Context, ref aggregate.Ref, l aggregate.Record) (Finding, error) {
	f := Finding{
		User:     l.User,
		DataKind: l.DataKind,
		Lifetime: l.Value,
		Totals:   make(map[aggregate.Granularity]decimal.Decimal, len(verifiedLevels)),
	}
	user := l.User
	for _, g := range verifiedLevels {
		records, err := v.Store.FindAggregates(ctx, aggregate.Filter{
			Reference:   ref,
			Granularity: g,
			DataKind:    l.DataKind,
			User:        &user,
		})
		if err != nil {
			return f, fmt.Errorf("sum %s aggregates for user %s: %w", g, user, err)
		}
		values := make([]decimal.Decimal, len(records))
		for i, r := range records {
			values[i] = r.Value
		}
		total := l.DataKind.Sum(values...)
		f.Totals[g] = total
		if !total.Equal(l.DataKind.Round(l.Value)) {
			f.Mismatched = append(f.Mismatched, g)
		}
	}
	return f, nil
}
