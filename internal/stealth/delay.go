package stealth

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// DelayProfile names a jitter range applied before each request.
type DelayProfile string

const (
	ProfileCautious   DelayProfile = "cautious"
	ProfileNormal     DelayProfile = "normal"
	ProfileAggressive DelayProfile = "aggressive"
	ProfileOff        DelayProfile = "off"
)

func ParseDelayProfile(s string) (DelayProfile, error) {
	switch p := DelayProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case ProfileCautious, ProfileNormal, ProfileAggressive, ProfileOff:
		return p, nil
	case "":
		return ProfileNormal, nil
	default:
		return "", fmt.Errorf("unknown delay profile %q", s)
	}
}

// HumanDelay adds randomized jitter between requests.
type HumanDelay struct {
	Min time.Duration
	Max time.Duration
}

// NewHumanDelay returns nil for ProfileOff.
func NewHumanDelay(profile DelayProfile) *HumanDelay {
	switch profile {
	case ProfileOff:
		return nil
	case ProfileCautious:
		return &HumanDelay{Min: 2 * time.Second, Max: 5 * time.Second}
	case ProfileAggressive:
		return &HumanDelay{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond}
	default:
		return &HumanDelay{Min: 500 * time.Millisecond, Max: 2 * time.Second}
	}
}

// Wait sleeps for a random duration in [Min, Max) or until ctx is done.
func (h *HumanDelay) Wait(ctx context.Context) error {
	t := time.NewTimer(h.Duration())
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HumanDelay) Duration() time.Duration {
	if h.Min >= h.Max {
		return h.Min
	}
	return h.Min + time.Duration(rand.Int64N(int64(h.Max-h.Min)))
}
