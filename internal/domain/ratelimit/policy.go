package ratelimit

// Policy is the escalation state machine. It holds no state of its own: every
// input comes from the counter store.
type Policy struct {
	cfg Config
}

// NewPolicy creates a Policy for cfg.
func NewPolicy(cfg Config) Policy {
	return Policy{cfg: cfg}
}

// Config returns the policy parameters.
func (p Policy) Config() Config {
	return p.cfg
}

// Verdict is the policy outcome for one request.
type Verdict struct {
	// Tier is the active tier.
	Tier Tier
	// Suspicious reports that the suspicion flag was present.
	Suspicious bool
	// Admit reports whether the request is within budget.
	Admit bool
	// MarkSuspicious requests a suspicion flag to be set.
	MarkSuspicious bool
	// Ban requests a ban flag to be set.
	Ban bool
}

// ActiveTier returns the tier that applies given the suspicion flag.
func (p Policy) ActiveTier(suspicious bool) Tier {
	if suspicious {
		return p.cfg.Suspicious
	}
	return p.cfg.Normal
}

// BanThreshold returns the counter value at which a client on tier t is banned.
func (p Policy) BanThreshold(t Tier) int64 {
	return t.Max + p.cfg.EscalationMargin
}

// Evaluate decides a request given the counter value before this request.
// Denied attempts are counted too, so the ban check uses count+1.
func (p Policy) Evaluate(count int64, suspicious bool) Verdict {
	tier := p.ActiveTier(suspicious)
	if count < tier.Max {
		return Verdict{Tier: tier, Suspicious: suspicious, Admit: true}
	}
	return Verdict{
		Tier:           tier,
		Suspicious:     suspicious,
		MarkSuspicious: !suspicious,
		Ban:            count+1 >= p.BanThreshold(tier),
	}
}

// Remaining returns the budget left after a request that brought the counter to count.
func (p Policy) Remaining(t Tier, count int64) int64 {
	if r := t.Max - count; r > 0 {
		return r
	}
	return 0
}

// StateOf derives the escalation state from stored flags.
func StateOf(suspicious, banned bool) State {
	switch {
	case banned:
		return StateBanned
	case suspicious:
		return StateSuspicious
	default:
		return StateNormal
	}
}
