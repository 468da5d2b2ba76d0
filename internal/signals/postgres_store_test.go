package signals

import (
	"context"
	"testing"
	"time"

	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/idgen"
	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/testutil"
)

func TestPostgresStore_AppendAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	for _, ip := range []string{"203.0.113.5", "203.0.113.5", "198.51.100.7"} {
		err := store.AppendFingerprint(ctx, &FingerprintRecord{
			ID:          idgen.WithPrefix("sig_"),
			DeviceHash:  "abc123",
			SessionID:   "s1",
			ClientIP:    ip,
			Signals:     map[string]string{"timezone": "Europe/Berlin"},
			CollectedAt: time.Now(),
			CreatedAt:   time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendFingerprint failed: %v", err)
		}
	}

	records, err := store.ListByDevice(ctx, "abc123", 10)
	if err != nil {
		t.Fatalf("ListByDevice failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 append-only records, got %d", len(records))
	}
	if records[0].Signals["timezone"] != "Europe/Berlin" {
		t.Errorf("signals not preserved: %+v", records[0].Signals)
	}

	ips, err := store.DeviceIPs(ctx, "abc123", 5)
	if err != nil {
		t.Fatalf("DeviceIPs failed: %v", err)
	}
	if len(ips) != 2 {
		t.Errorf("expected 2 distinct ips, got %v", ips)
	}
}

func TestPostgresStore_AppendBiometrics(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	err := store.AppendBiometrics(ctx, &BiometricsRecord{
		ID:                 idgen.WithPrefix("bio_"),
		SessionID:          "s1",
		ClientIP:           "203.0.113.5",
		TotalMouseEvents:   42,
		TotalClickEvents:   3,
		MovementUniformity: 0.91,
		BotLikelihoodScore: 74,
		CreatedAt:          time.Now(),
	})
	if err != nil {
		t.Fatalf("AppendBiometrics failed: %v", err)
	}

	var score int
	err = db.QueryRowContext(ctx, `
		SELECT bot_score FROM biometrics_samples WHERE session_id = 's1'
	`).Scan(&score)
	if err != nil {
		t.Fatalf("query biometrics: %v", err)
	}
	if score != 74 {
		t.Errorf("expected bot_score 74, got %d", score)
	}
}
