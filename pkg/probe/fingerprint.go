// Package probe is the client-side signal collection SDK.
//
// It produces the two signal kinds the ingestion endpoint accepts: device
// fingerprints (a stable hash over ambient environment signals) and
// behavioral biometrics samples (a bot-likelihood score derived from
// interaction timing). Both are best-effort; neither ever fails the host
// application.
package probe

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DeviceFingerprint is a snapshot of ambient environment signals plus a
// hash derived from them. Snapshots are never mutated; a later collection
// supersedes an earlier one.
type DeviceFingerprint struct {
	Signals     map[string]string `json:"signals"`
	Hash        string            `json:"hash"`
	CollectedAt time.Time         `json:"collectedAt"`
}

// SignalSource supplies one named environment signal. A source that cannot
// produce its value returns an error and is omitted from the snapshot.
type SignalSource interface {
	Name() string
	Value() (string, error)
}

// SignalFunc adapts a function to the SignalSource interface.
type SignalFunc struct {
	SignalName string
	Fn         func() (string, error)
}

func (s SignalFunc) Name() string           { return s.SignalName }
func (s SignalFunc) Value() (string, error) { return s.Fn() }

// Collector gathers signals from its sources into fingerprints.
type Collector struct {
	sources []SignalSource
	now     func() time.Time
}

// NewCollector creates a collector over the given signal sources.
func NewCollector(sources ...SignalSource) *Collector {
	return &Collector{sources: sources, now: time.Now}
}

// Collect produces a fingerprint snapshot. Unavailable sources are
// omitted, never treated as a failure: the snapshot is always produced,
// and repeated calls in the same environment produce the same hash.
func (c *Collector) Collect() *DeviceFingerprint {
	signals := make(map[string]string, len(c.sources))
	for _, source := range c.sources {
		value, err := source.Value()
		if err != nil {
			continue
		}
		signals[source.Name()] = value
	}

	return &DeviceFingerprint{
		Signals:     signals,
		Hash:        CanonicalHash(signals),
		CollectedAt: c.now(),
	}
}

// CanonicalHash derives the stable fingerprint hash: SHA-256 over the
// signal map serialized as sorted key=value lines. The hash is a pure
// function of the map, so equal signal sets always collide and any
// differing signal changes the hash.
func CanonicalHash(signals map[string]string) string {
	keys := make([]string, 0, len(signals))
	for k := range signals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(signals[k])
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// EnvironmentSources returns the default signal set for the current
// process environment.
func EnvironmentSources() []SignalSource {
	return []SignalSource{
		SignalFunc{"os", func() (string, error) { return runtime.GOOS, nil }},
		SignalFunc{"arch", func() (string, error) { return runtime.GOARCH, nil }},
		SignalFunc{"cpus", func() (string, error) { return strconv.Itoa(runtime.NumCPU()), nil }},
		SignalFunc{"hostname", os.Hostname},
		SignalFunc{"timezone", func() (string, error) {
			zone, _ := time.Now().Zone()
			return zone, nil
		}},
		SignalFunc{"lang", func() (string, error) {
			if lang := os.Getenv("LANG"); lang != "" {
				return lang, nil
			}
			return "", os.ErrNotExist
		}},
	}
}
