package sequencer

import "time"

// Policy controls retries and pacing per signing identity.
type Policy struct {
	// MaxAttempts bounds submissions of one operation when the ledger reports
	// an ordering counter conflict. 2 means one retry.
	MaxAttempts int

	// Delay returns the pause before retry n (n starts at 1).
	Delay func(retry int) time.Duration

	// SettleDelay holds the identity's lane after a confirmed submission.
	SettleDelay time.Duration
}

// DefaultPolicy retries once after 500ms and settles for one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		Delay:       ConstantDelay(500 * time.Millisecond),
		SettleDelay: time.Second,
	}
}

// ConstantDelay waits d before every retry.
func ConstantDelay(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// ExponentialDelay doubles base per retry, capped at max.
func ExponentialDelay(base, max time.Duration) func(int) time.Duration {
	return func(retry int) time.Duration {
		d := base << min(retry-1, 16)
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay == nil {
		p.Delay = ConstantDelay(0)
	}
	if p.SettleDelay < 0 {
		p.SettleDelay = 0
	}
	return p
}
