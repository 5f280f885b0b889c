// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/supervisor"
)

// ServeCmd runs the node until SIGINT or SIGTERM.
type ServeCmd struct {
	DrainTimeout time.Duration `help:"How long to wait for open sessions to be stored on shutdown." default:"30s"`
}

// Run wires the node, starts the supervisor tree and performs the ordered
// shutdown: intake first, while the dispatcher still runs, then the tree.
func (c *ServeCmd) Run(g *Globals, parent context.Context) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}

	n, err := newNode(parent, cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	n.supervise(tree)

	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	treeCtx, cancelTree := context.WithCancel(parent)
	defer cancelTree()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(treeCtx)

	var treeErr error
	select {
	case <-sigCtx.Done():
		logging.Info().Msg("Shutdown signal received")
	case treeErr = <-errCh:
		logging.Error().Err(treeErr).Msg("Supervisor tree stopped unexpectedly")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), c.DrainTimeout)
	if err := n.intake.Shutdown(drainCtx); err != nil {
		logging.Error().Err(err).Msg("Open sessions were not fully stored before shutdown")
	}
	cancelDrain()

	cancelTree()
	if treeErr == nil {
		for err := range errCh {
			if err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("Supervisor shutdown error")
			}
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		return fmt.Errorf("supervisor: %w", treeErr)
	}
	logging.Info().Msg("Node stopped")
	return nil
}
