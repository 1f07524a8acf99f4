package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testRun() *Run {
	return &Run{
		InputPath:  "/data/movie.mkv",
		Name:       "movie",
		OutputPath: "/work/movie/movie.mkv",
		Width:      3840,
		Height:     2160,
		Duration:   7200.5,
		FrameRate:  23.976,
		IsHEVC:     true,
		OutputRes:  1920,
		OutputCQ:   23.5,
		CropTop:    140,
		CropBottom: 140,
		Channels:   6,
		HDRType:    "DoVi",
		OrigSize:   40_000_000_000,
		OutputSize: 12_000_000_000,
		Ratio:      0.3,
		Status:     StatusComplete,
	}
}

func TestSaveAndRecentRuns(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "autocomp.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	id, err := s.SaveRun(testRun())
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id == 0 {
		t.Error("SaveRun returned zero ID")
	}

	runs, err := s.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}

	got := runs[0]
	want := testRun()
	if got.InputPath != want.InputPath || got.Name != want.Name || got.OutputPath != want.OutputPath {
		t.Errorf("paths do not round-trip: %+v", got)
	}
	if got.Width != want.Width || got.Height != want.Height || !got.IsHEVC {
		t.Errorf("probed facts do not round-trip: %+v", got)
	}
	if got.OutputRes != want.OutputRes || got.OutputCQ != want.OutputCQ ||
		got.CropTop != want.CropTop || got.CropBottom != want.CropBottom ||
		got.Channels != want.Channels || got.HDRType != want.HDRType {
		t.Errorf("decisions do not round-trip: %+v", got)
	}
	if got.OrigSize != want.OrigSize || got.OutputSize != want.OutputSize || got.Ratio != want.Ratio {
		t.Errorf("sizes do not round-trip: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt was not stamped")
	}
}

func TestRecentRunsOrderAndLimit(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "autocomp.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	names := []string{"first", "second", "third"}
	for _, name := range names {
		r := testRun()
		r.Name = name
		if _, err := s.SaveRun(r); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.RecentRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Name != "third" || runs[1].Name != "second" {
		t.Errorf("runs not newest first: %s, %s", runs[0].Name, runs[1].Name)
	}
}

func TestRunsForInput(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "autocomp.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	a := testRun()
	a.InputPath = "/data/a.mkv"
	b := testRun()
	b.InputPath = "/data/b.mkv"
	for _, r := range []*Run{a, b, a} {
		cp := *r
		if _, err := s.SaveRun(&cp); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.RunsForInput("/data/a.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs for input, want 2", len(runs))
	}
}

func TestTotalSavedIgnoresFailures(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "autocomp.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ok := testRun()
	ok.OrigSize = 1000
	ok.OutputSize = 400
	if _, err := s.SaveRun(ok); err != nil {
		t.Fatal(err)
	}

	failed := testRun()
	failed.Status = StatusFailed
	failed.Error = "production encode failed"
	failed.OrigSize = 5000
	failed.OutputSize = 100
	if _, err := s.SaveRun(failed); err != nil {
		t.Fatal(err)
	}

	saved, err := s.TotalSaved()
	if err != nil {
		t.Fatal(err)
	}
	if saved != 600 {
		t.Errorf("TotalSaved = %d, want 600", saved)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autocomp.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	r := testRun()
	r.CreatedAt = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	if _, err := s.SaveRun(r); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	runs, err := s2.RecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs after reopen, want 1", len(runs))
	}
	if !runs[0].CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", runs[0].CreatedAt, r.CreatedAt)
	}
}
