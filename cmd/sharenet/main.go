// Copyright 2015 The MOAC-core Authors
// This file is part of MOAC-core.
//
// MOAC-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// MOAC-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with MOAC-core. If not, see <http://www.gnu.org/licenses/>.

// sharenet is the command-line entry point for a single peer-to-peer
// file-sharing node: point it at a directory and it joins the overlay,
// serves that directory's files, and opens an interactive search prompt.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/MOACChain/MoacLib/log"

	"github.com/sharenet/sharenet/internal/config"
	"github.com/sharenet/sharenet/internal/node"
)

const usage = "a peer-to-peer file-sharing node"

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = usage
	app.Version = "0.1.0"
	app.ArgsUsage = "<shared-directory>"
	app.Action = run
	return app
}

// run is the app's sole Action. It takes exactly one positional argument
// and no flags: the directory this node shares and searches locally.
// Tunable parameters are never CLI flags; they come from the optional TOML
// file named by SHARENET_CONFIG, if set.
func run(ctx *cli.Context) error {
	log.Root().SetHandler(log.StreamHandler(os.Stderr, log.TerminalFormat(true)))

	if ctx.NArg() != 1 {
		return cli.NewExitError("usage: sharenet <shared-directory>", 1)
	}
	dir := ctx.Args().Get(0)

	cfg, err := config.Load()
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("loading %s: %v", config.ConfigEnvVar, err), 1)
	}

	rt, err := node.NewRuntime(cfg, dir)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("sharenet: shutting down")
		cancel()
	}()

	if err := rt.Run(runCtx); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
