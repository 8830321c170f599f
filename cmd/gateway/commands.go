package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/domain"
)

const commandTimeout = 10 * time.Second

type PeekCmd struct {
	Purpose string `arg:"" help:"Limiter name."`
	Subject string `arg:"" help:"Subject identifier."`
}

func (c *PeekCmd) Run(g *Globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	d, err := buildDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.Close()

	gate := application.NewGate(d.registry, application.WithBypass(d.bypass))
	usage, err := gate.Peek(ctx, c.Purpose, domain.Subject(c.Subject))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, usage)
}

type InspectCmd struct {
	Subject string `arg:"" help:"Subject identifier."`
	Purpose string `name:"purpose" help:"Inspect a single limiter (default: all)."`
	Entries bool   `name:"entries" help:"Include the raw window entries."`
}

func (c *InspectCmd) Run(g *Globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	d, err := buildDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.Close()

	inspector := application.NewInspector(d.registry, d.store,
		application.WithInspectorLogger(slog.Default()),
		application.WithEntries(c.Entries),
	)
	s := domain.Subject(c.Subject)

	if c.Purpose != "" {
		rep, err := inspector.Inspect(ctx, c.Purpose, s)
		if err != nil {
			return err
		}
		if err := printJSON(os.Stdout, rep); err != nil {
			return err
		}
		return rep.Mismatch()
	}

	reports, err := inspector.InspectAll(ctx, s)
	if err != nil {
		return err
	}
	if err := printJSON(os.Stdout, reports); err != nil {
		return err
	}
	mismatches := 0
	for _, rep := range reports {
		if rep.Mismatch() != nil {
			mismatches++
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("%d of %d limiters inconsistent for %s", mismatches, len(reports), s)
	}
	return nil
}

type ResetCmd struct {
	Subject string `arg:"" help:"Subject identifier."`
	Purpose string `name:"purpose" help:"Reset a single limiter (default: all)."`
}

func (c *ResetCmd) Run(g *Globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	d, err := buildDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.Close()

	s := domain.Subject(c.Subject)
	if c.Purpose != "" {
		gate := application.NewGate(d.registry)
		if err := gate.Reset(ctx, c.Purpose, s); err != nil {
			return err
		}
		slog.Info("reset", "purpose", c.Purpose, "subject", s)
		return nil
	}

	inspector := application.NewInspector(d.registry, d.store)
	results, summary := inspector.ResetAll(ctx, s)
	if err := printJSON(os.Stdout, struct {
		Results []domain.ResetResult `json:"reset_results"`
		Summary domain.ResetSummary  `json:"summary"`
	}{results, summary}); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d limiters failed to reset", summary.Failed, summary.Total)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
