// roomviz is a debug-only CLI that renders a Room's CRDT change history to
// an SVG graph, adapted from the teacher's cmd/debug tool: instead of
// loading a raw automerge file from disk, it reads the document out of the
// durable room storage by room name.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/automerge/automerge-go"

	"github.com/dalive/collabworker/internal/roomviz"
	"github.com/dalive/collabworker/internal/storage"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	dbPath := flag.String("db", "collabworker.db", "path to the SQLite room storage database")
	room := flag.String("room", "", "room (document) name to render")
	out := flag.String("out", "room.svg", "output SVG path")
	flag.Parse()

	if *room == "" {
		return fmt.Errorf("-room is required")
	}

	store, err := storage.OpenSQLiteStore(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	rec, ok, err := storage.Read(store, *room)
	if err != nil {
		return fmt.Errorf("failed to read room: %w", err)
	}
	if !ok {
		return fmt.Errorf("no durable state found for room %q", *room)
	}

	doc, err := automerge.Load(rec.State)
	if err != nil {
		return fmt.Errorf("failed to load doc: %w", err)
	}

	slog.Info("loaded doc", "room", *room, "etag", rec.ETag, "heads", doc.Heads())

	svg, err := roomviz.RenderToSVG(doc)
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if err := os.WriteFile(*out, svg, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	slog.Info("wrote svg", "path", *out)
	return nil
}
