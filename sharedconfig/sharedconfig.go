// Package sharedconfig implements the versioned ephemeral-message settings shared by every participant of a
// discussion, and the rules used to converge on them.
package sharedconfig

import (
	"math"
	"time"
)

// Expiration is the ephemeral policy of a discussion. A zero duration means the limit is absent.
type Expiration struct {
	ReadOnce           bool
	VisibilityDuration time.Duration
	ExistenceDuration  time.Duration
}

// NewExpiration builds an expiration, dropping non-positive durations.
func NewExpiration(readOnce bool, visibility, existence time.Duration) Expiration {
	return Expiration{ReadOnce: readOnce, VisibilityDuration: positive(visibility), ExistenceDuration: positive(existence)}
}

func positive(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d
}

// Normalized returns e with non-positive durations cleared.
func (e Expiration) Normalized() Expiration {
	return NewExpiration(e.ReadOnce, e.VisibilityDuration, e.ExistenceDuration)
}

// IsEphemeral is true when any limit is set.
func (e Expiration) IsEphemeral() bool {
	e = e.Normalized()
	return e.ReadOnce || e.VisibilityDuration > 0 || e.ExistenceDuration > 0
}

// RequiresUserAction is true when reading a message under this policy starts a countdown or destroys it.
func (e Expiration) RequiresUserAction() bool {
	e = e.Normalized()
	return e.ReadOnce || e.VisibilityDuration > 0
}

type Configuration struct {
	Version    int64
	Expiration Expiration
}

type MergeResult struct {
	Updated  bool
	SendBack bool
}

// Merge folds a remote claim into c. Equal versions with different expirations are reported but not adopted.
func (c *Configuration) Merge(remote Configuration) MergeResult {
	remoteExpiration := remote.Expiration.Normalized()
	switch {
	case remote.Version > c.Version:
		c.Version = remote.Version
		c.Expiration = remoteExpiration
		return MergeResult{Updated: true}
	case remote.Version == c.Version:
		return MergeResult{SendBack: remoteExpiration != c.Expiration.Normalized()}
	default:
		return MergeResult{SendBack: true}
	}
}

// Replace applies a local change. The version always moves forward.
func (c *Configuration) Replace(e Expiration) {
	c.Version++
	c.Expiration = e.Normalized()
}

// NeedsReply reports whether a peer claiming knownVersion/knownExpiration should receive our settings.
// A nil knownVersion means the peer knows nothing.
func (c Configuration) NeedsReply(knownVersion *int64, knownExpiration *Expiration) bool {
	known := int64(math.MinInt64)
	if knownVersion != nil {
		known = *knownVersion
	}
	local := c.Expiration.Normalized()
	sameExpiration := knownExpiration != nil && knownExpiration.Normalized() == local
	if c.Version > known {
		return true
	}
	return c.Version == known && !sameExpiration
}
