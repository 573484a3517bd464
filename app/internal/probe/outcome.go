package probe

import (
	"fmt"
	"time"
)

// Kind classifies the result of a single echo probe.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimeout
	KindUnreachable
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindUnreachable:
		return "unreachable"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the classified result of one probe. Latency is set only for
// KindSuccess, Reason only for KindError.
type Outcome struct {
	Kind    Kind
	Latency time.Duration
	Reason  string
}

func Success(latency time.Duration) Outcome {
	return Outcome{Kind: KindSuccess, Latency: latency}
}

func Timeout() Outcome {
	return Outcome{Kind: KindTimeout}
}

func Unreachable() Outcome {
	return Outcome{Kind: KindUnreachable}
}

func Errorf(format string, args ...any) Outcome {
	return Outcome{Kind: KindError, Reason: fmt.Sprintf(format, args...)}
}

// Result is one recorded probe of one target.
type Result struct {
	Address string
	TakenAt time.Time
	Outcome Outcome
}
