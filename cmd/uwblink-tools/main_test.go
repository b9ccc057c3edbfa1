package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"uwblink/internal/config"
	"uwblink/internal/db"
	"uwblink/internal/db/migrate"
	"uwblink/internal/journal"
	"uwblink/internal/protocol"
)

func TestRunHex(t *testing.T) {
	tests := []struct {
		mode    string
		in      string
		want    string
		wantErr bool
	}{
		{"format", "\x0a\xff", "0A FF \n", false},
		{"format", "", "\n", false},
		{"parse", "0A FF \n", "\x0a\xff", false},
		{"parse", "0x0b,11:22", "\x0b\x11\x22", false},
		{"parse", "ABC", "", true},
		{"bogus", "", "", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		err := runHex([]string{tt.mode}, strings.NewReader(tt.in), &out)
		if (err != nil) != tt.wantErr {
			t.Errorf("runHex(%s, %q) err = %v; wantErr %v", tt.mode, tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && out.String() != tt.want {
			t.Errorf("runHex(%s, %q) = %q; want %q", tt.mode, tt.in, out.String(), tt.want)
		}
	}
}

func TestRunFramesAndConfig(t *testing.T) {
	cfg := config.Config{SQLiteDSN: ":memory:", LogLevel: slog.LevelInfo, AccessoryName: "tag-1"}
	conn, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if _, err := migrate.Run(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	var out bytes.Buffer
	if err := runConfig(ctx, conn, cfg, nil, &out); err != nil {
		t.Fatalf("runConfig: %v", err)
	}
	if !strings.Contains(out.String(), "no configuration data") {
		t.Errorf("empty config output = %q", out.String())
	}

	repo := journal.NewRepository(conn)
	if _, err := repo.InsertFrame(ctx, journal.NewFrame("tag-1", journal.DirectionTX, journal.SourceBLE, []byte{0x0A})); err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}
	c := protocol.ConfigurationData{MajorVersion: 1, UWBConfigData: []byte{0xCA, 0xFE}}
	if err := repo.InsertConfiguration(ctx, "tag-1", time.Now(), c); err != nil {
		t.Fatalf("InsertConfiguration: %v", err)
	}

	out.Reset()
	if err := runFrames(ctx, conn, cfg, []string{"-n", "5"}, &out); err != nil {
		t.Fatalf("runFrames: %v", err)
	}
	if !strings.Contains(out.String(), "tag-1: 1 frames") || !strings.Contains(out.String(), "0A ") {
		t.Errorf("frames output = %q", out.String())
	}

	out.Reset()
	if err := runConfig(ctx, conn, cfg, nil, &out); err != nil {
		t.Fatalf("runConfig: %v", err)
	}
	if !strings.Contains(out.String(), "version:     1.0") || !strings.Contains(out.String(), "CA FE ") {
		t.Errorf("config output = %q", out.String())
	}
}
