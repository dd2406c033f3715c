package model

// TierLimit is the ledger row of one tier.  Remaining is always derived from
// Max and Participated and never stored on its own.
type TierLimit struct {
	Quality      Quality `json:"quality" bson:"_id"`
	Max          int     `json:"max" bson:"max"`
	Participated int     `json:"participated" bson:"participated"`
}

// Remaining is Max minus Participated.
func (t TierLimit) Remaining() int { return t.Max - t.Participated }

// ShareLedger is the global per-tier cap/consumed record.
type ShareLedger struct {
	Tiers map[Quality]TierLimit `json:"-"`
}

// TierView is the JSON shape of one ledger row.
type TierView struct {
	Max          int `json:"max"`
	Participated int `json:"participated"`
	Remaining    int `json:"remaining"`
}

// View renders the ledger keyed by tier name.
func (l ShareLedger) View() map[Quality]TierView {
	out := make(map[Quality]TierView, len(l.Tiers))
	for q, t := range l.Tiers {
		out[q] = TierView{Max: t.Max, Participated: t.Participated, Remaining: t.Remaining()}
	}
	return out
}
