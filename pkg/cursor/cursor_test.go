package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/nicktill/tinygarden/pkg/statestore/memory"
)

var sources = []string{"moisture", "light", "water", "plant_status"}

func TestLoad_MissingCursorDefaultsToEpoch(t *testing.T) {
	store := memory.New()

	c, err := Load(context.Background(), store, sources)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Watermarks.SessionsLastModified != Epoch {
		t.Errorf("sessions watermark = %q, want epoch", c.Watermarks.SessionsLastModified)
	}
	for _, name := range sources {
		if c.Watermarks.Sources[name] != Epoch {
			t.Errorf("%s watermark = %q, want epoch", name, c.Watermarks.Sources[name])
		}
	}
	if c.LastRun != "" {
		t.Errorf("LastRun = %q for a never-run cursor", c.LastRun)
	}
}

func TestLoad_PreservesExistingWatermarks(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	existing := Cursor{
		LastRun: "2026-02-24T12:00:00Z",
		Watermarks: Watermarks{
			SessionsLastModified: "2026-02-24T10:00:00Z",
			Sources: map[string]string{
				"moisture": "2026-02-24T11:00:00Z",
			},
		},
	}
	if err := store.Put(ctx, Key, existing); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	c, err := Load(ctx, store, sources)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Watermarks.SessionsLastModified != "2026-02-24T10:00:00Z" {
		t.Errorf("sessions watermark = %q", c.Watermarks.SessionsLastModified)
	}
	if c.Watermarks.Sources["moisture"] != "2026-02-24T11:00:00Z" {
		t.Errorf("moisture watermark = %q", c.Watermarks.Sources["moisture"])
	}
	// Sources absent from the stored cursor default to epoch
	for _, name := range []string{"light", "water", "plant_status"} {
		if c.Watermarks.Sources[name] != Epoch {
			t.Errorf("%s watermark = %q, want epoch", name, c.Watermarks.Sources[name])
		}
	}
}

func TestSave_StampsLastRunAndRoundTrips(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	c := &Cursor{
		PlantStatus: "healthy",
		Watermarks: Watermarks{
			SessionsLastModified: Epoch,
			Sources:              map[string]string{"water": "2026-02-24T09:30:00Z"},
		},
	}
	now := time.Date(2026, 2, 24, 13, 0, 0, 0, time.UTC)
	if err := Save(ctx, store, c, now); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if c.LastRun != "2026-02-24T13:00:00Z" {
		t.Errorf("LastRun = %q", c.LastRun)
	}

	got, err := Load(ctx, store, sources)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.LastRun != "2026-02-24T13:00:00Z" {
		t.Errorf("Reloaded LastRun = %q", got.LastRun)
	}
	if got.PlantStatus != "healthy" {
		t.Errorf("Reloaded PlantStatus = %q", got.PlantStatus)
	}
	if got.Watermarks.Sources["water"] != "2026-02-24T09:30:00Z" {
		t.Errorf("Reloaded water watermark = %q", got.Watermarks.Sources["water"])
	}
}
