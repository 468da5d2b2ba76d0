package probe

import (
	"errors"
	"testing"
)

func staticSource(name, value string) SignalSource {
	return SignalFunc{name, func() (string, error) { return value, nil }}
}

func brokenSource(name string) SignalSource {
	return SignalFunc{name, func() (string, error) { return "", errors.New("unavailable") }}
}

func TestCollect_StableHash(t *testing.T) {
	c := NewCollector(
		staticSource("timezone", "CET"),
		staticSource("os", "linux"),
	)

	first := c.Collect()
	second := c.Collect()

	if first.Hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if first.Hash != second.Hash {
		t.Errorf("identical signals must hash identically: %s != %s", first.Hash, second.Hash)
	}
}

func TestCollect_DifferentSignalsDifferentHash(t *testing.T) {
	a := NewCollector(staticSource("timezone", "CET"), staticSource("os", "linux")).Collect()
	b := NewCollector(staticSource("timezone", "PST"), staticSource("os", "linux")).Collect()

	if a.Hash == b.Hash {
		t.Error("differing signal values must produce differing hashes")
	}
}

func TestCollect_HashIndependentOfSourceOrder(t *testing.T) {
	a := NewCollector(staticSource("a", "1"), staticSource("b", "2")).Collect()
	b := NewCollector(staticSource("b", "2"), staticSource("a", "1")).Collect()

	if a.Hash != b.Hash {
		t.Error("hash must depend on the signal set, not source registration order")
	}
}

func TestCollect_BrokenSourceOmitted(t *testing.T) {
	c := NewCollector(
		staticSource("os", "linux"),
		brokenSource("canvas"),
	)

	fp := c.Collect()
	if fp == nil {
		t.Fatal("collection must always produce a snapshot")
	}
	if _, ok := fp.Signals["canvas"]; ok {
		t.Error("unavailable source must be omitted, not recorded")
	}
	if fp.Signals["os"] != "linux" {
		t.Error("working sources must still contribute")
	}
}

func TestCollect_AllSourcesBroken(t *testing.T) {
	fp := NewCollector(brokenSource("a"), brokenSource("b")).Collect()
	if fp == nil {
		t.Fatal("best-effort collection never fails the caller")
	}
	if len(fp.Signals) != 0 {
		t.Errorf("expected empty signal map, got %v", fp.Signals)
	}
}

func TestCanonicalHash_KeyAndValueSensitive(t *testing.T) {
	base := CanonicalHash(map[string]string{"a": "1", "b": "2"})

	if CanonicalHash(map[string]string{"a": "1", "b": "3"}) == base {
		t.Error("value change must change the hash")
	}
	if CanonicalHash(map[string]string{"a": "1", "c": "2"}) == base {
		t.Error("key change must change the hash")
	}
	if CanonicalHash(map[string]string{"a": "1"}) == base {
		t.Error("dropped signal must change the hash")
	}
}

func TestEnvironmentSources_Collectable(t *testing.T) {
	fp := NewCollector(EnvironmentSources()...).Collect()
	if fp.Signals["os"] == "" {
		t.Error("os signal should always be available")
	}
}
