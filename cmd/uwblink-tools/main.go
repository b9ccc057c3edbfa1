package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"uwblink/internal/config"
	"uwblink/internal/db"
	"uwblink/internal/db/migrate"
	"uwblink/internal/journal"
	"uwblink/internal/utils"
)

const usage = `usage: %s <command>
  migrate              apply pending schema migrations
  frames [-n N] [-a A] list journaled frames, newest first
  config [-a A]        show the latest accessory configuration data
  hex format|parse     stdin bytes to "0A FF " text, or hex text to bytes
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	// hex needs no database.
	if os.Args[1] == "hex" {
		if err := runHex(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "hex: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	conn, err := db.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	ctx := context.Background()
	switch os.Args[1] {
	case "migrate":
		applied, err := migrate.Run(conn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("migrations applied: %d\n", len(applied))
		for _, v := range applied {
			fmt.Println("  " + v)
		}
	case "frames":
		if err := runFrames(ctx, conn, cfg, os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "frames: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(ctx, conn, cfg, os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func runFrames(ctx context.Context, conn *sql.DB, cfg config.Config, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("frames", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of frames")
	accessory := fs.String("a", cfg.AccessoryName, "accessory name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	repo := journal.NewRepository(conn)
	total, err := repo.CountFrames(ctx, *accessory)
	if err != nil {
		return err
	}
	frames, err := repo.ListFrames(ctx, *accessory, *limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s: %d frames (showing %d)\n", *accessory, total, len(frames))
	for _, f := range frames {
		name := "-"
		if f.MessageID != nil {
			name = f.MessageID.String()
		}
		fmt.Fprintf(w, "%6d %s %s %-6s %-28s %s\n",
			f.ID, f.Time.Local().Format(time.DateTime), f.Direction, f.Source, name,
			utils.ByteArrayToHexString(f.Data))
	}
	return nil
}

func runConfig(ctx context.Context, conn *sql.DB, cfg config.Config, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	accessory := fs.String("a", cfg.AccessoryName, "accessory name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rec, err := journal.NewRepository(conn).LatestConfiguration(ctx, *accessory)
	if errors.Is(err, journal.ErrNotFound) {
		fmt.Fprintf(w, "%s: no configuration data received yet\n", *accessory)
		return nil
	}
	if err != nil {
		return err
	}

	c := rec.Config
	fmt.Fprintf(w, "received:    %s\n", rec.Time.Local().Format(time.DateTime))
	fmt.Fprintf(w, "version:     %d.%d\n", c.MajorVersion, c.MinorVersion)
	fmt.Fprintf(w, "update rate: %d\n", uint8(c.PreferredUpdateRate))
	fmt.Fprintf(w, "uwb config:  %s\n", utils.ByteArrayToHexString(c.UWBConfigData))
	return nil
}

func runHex(args []string, r io.Reader, w io.Writer) error {
	if len(args) != 1 {
		return errors.New("want format or parse")
	}
	in, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	switch args[0] {
	case "format":
		_, err = fmt.Fprintln(w, utils.ByteArrayToHexString(in))
		return err
	case "parse":
		b, err := utils.ParseHexString(strings.TrimSpace(string(in)))
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return fmt.Errorf("unknown mode %q", args[0])
	}
}
