package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"petlens/internal/camera"
	"petlens/internal/config"
	"petlens/internal/enrollment"
	"petlens/internal/petapi"
)

func newTestApp(t *testing.T) (*app, *petapi.FakeServer, *camera.MockMediaSource) {
	t.Helper()

	cfg := config.Default()
	cfg.Capture.MinInterval = time.Millisecond

	server := petapi.NewFakeServer(cfg.Capture.QuotaLimit)
	t.Cleanup(server.Close)

	client, err := petapi.NewClient(petapi.Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	source := camera.NewMockMediaSource("/dev/video0")
	tracker := enrollment.NewTracker(client, cfg.Capture.QuotaLimit, nil)
	return &app{
		config:  cfg,
		logger:  slog.Default(),
		session: camera.NewSession(source, camera.SessionOptions{}),
		client:  client,
		tracker: tracker,
		saver:   enrollment.NewSaver(client, tracker, cfg.Capture.MaxUploadErrors, nil),
	}, server, source
}

func TestNewRootCmd(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"serve", "devices", "capture"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %s, got %v (%v)", name, cmd, err)
		}
	}

	capture, _, _ := root.Find([]string{"capture"})
	for _, flag := range []string{"pet", "count", "interval", "save", "device", "out"} {
		if capture.Flags().Lookup(flag) == nil {
			t.Errorf("Expected capture flag --%s", flag)
		}
	}
}

func TestRunCapture_WritesFrames(t *testing.T) {
	a, _, source := newTestApp(t)
	dir := filepath.Join(t.TempDir(), "frames")

	var out bytes.Buffer
	err := runCapture(context.Background(), &out, a, captureOptions{
		count:    3,
		interval: 2 * time.Millisecond,
		outDir:   dir,
	})
	if err != nil {
		t.Fatalf("runCapture failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 files, got %d", len(entries))
	}
	if source.LiveStreams() != 0 {
		t.Error("Expected camera to be released")
	}
	if !strings.Contains(out.String(), "3 枚撮影しました") {
		t.Errorf("Unexpected output: %s", out.String())
	}
}

func TestRunCapture_SaveClampedToQuota(t *testing.T) {
	a, server, _ := newTestApp(t)
	server.SetCount("42", 17)

	var out bytes.Buffer
	err := runCapture(context.Background(), &out, a, captureOptions{
		petID:    "42",
		count:    5,
		interval: 2 * time.Millisecond,
		save:     true,
	})
	if err != nil {
		t.Fatalf("runCapture failed: %v", err)
	}

	if server.Count("42") != 20 {
		t.Errorf("Expected server count 20, got %d", server.Count("42"))
	}
	if !strings.Contains(out.String(), "3 枚に減らしました") || !strings.Contains(out.String(), "上限に達しました") {
		t.Errorf("Unexpected output: %s", out.String())
	}
}

func TestRunCapture_Errors(t *testing.T) {
	a, server, _ := newTestApp(t)

	if err := runCapture(context.Background(), &bytes.Buffer{}, a, captureOptions{count: 1, interval: time.Second, save: true}); err == nil {
		t.Error("Expected --save without --pet to fail")
	}

	server.SetCount("42", 20)
	err := runCapture(context.Background(), &bytes.Buffer{}, a, captureOptions{petID: "42", count: 1, interval: time.Second})
	if err == nil {
		t.Error("Expected capture at the limit to fail")
	}
	if a.session.Active() {
		t.Error("Expected camera to be released after failure")
	}
}
