// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/archivist/internal/clierr"
	"github.com/kraklabs/archivist/internal/ui"
	"github.com/kraklabs/archivist/pkg/catalog"
	"github.com/kraklabs/archivist/pkg/config"
	"github.com/kraklabs/archivist/pkg/discovery"
	"github.com/kraklabs/archivist/pkg/identify"
	"github.com/kraklabs/archivist/pkg/integrity"
	"github.com/kraklabs/archivist/pkg/recipe"
	"github.com/kraklabs/archivist/pkg/runner"
	"github.com/kraklabs/archivist/pkg/scheduler"
	"github.com/kraklabs/archivist/pkg/worker"
)

// runConvert implements the single `convert` entry point.
func runConvert(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)

	dest := fs.String("dest", "", "destination root (default: source, in-place mode)")
	dbPath := fs.String("db", "", "path to catalog store file (default: <dest>.db)")
	recipesPath := fs.String("recipes", "recipes.yaml", "path to the recipe registry YAML file")
	settingsPath := fs.String("settings", "settings.yaml", "path to the application settings YAML file")
	mime := fs.String("mime", "", "filter: media type equals")
	puid := fs.String("puid", "", "filter: format id equals")
	ext := fs.String("ext", "", "filter: extension equals")
	status := fs.String("status", "", "filter: status equals")
	reconvert := fs.Bool("reconvert", false, "include records already in a terminal status; purge their derived artifacts")
	retry := fs.Bool("retry", false, "include only records in a failure status")
	identifyOnly := fs.Bool("identify-only", false, "perform identification and update the catalog; skip conversion")
	filecheck := fs.Bool("filecheck", false, "run the Integrity Check before conversion")
	setSourceExt := fs.Bool("set-source-ext", false, "rename source files to their canonical extension during identify")
	keepOriginals := fs.Bool("keep-originals", false, "force kept=true on every original regardless of recipe")
	origExt := fs.Bool("orig-ext", false, "append destination extension on top of the original extension")
	multi := fs.Bool("multi", false, "partition work per top-level subfolder")
	debug := fs.Bool("debug", false, "print command, stdout, stderr on failure")
	workers := fs.Int("workers", 0, "worker concurrency (default: available parallelism)")
	identifierTool := fs.String("identifier-tool", "", "override the external identification tool command")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: source argument is required")
		return 2
	}
	source := fs.Arg(0)

	logLevel := slog.LevelInfo
	if *debug || globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	destRoot := *dest
	if destRoot == "" {
		destRoot = source
	}
	storePath := *dbPath
	if storePath == "" {
		storePath = destRoot + ".db"
	}
	tempRoot := filepath.Join(os.TempDir(), "archivist")

	settings, err := loadSettingsWithDefaults(*settingsPath)
	if err != nil {
		clierr.FatalError(err, globals.JSON)
	}
	recipes, err := loadRecipesWithDefaults(*recipesPath)
	if err != nil {
		clierr.FatalError(err, globals.JSON)
	}

	store, err := catalog.Open(storePath)
	if err != nil {
		clierr.FatalError(clierr.NewCatalogError(
			"Cannot open catalog store",
			"The database file may be locked or corrupt",
			fmt.Sprintf("Check permissions on %s, or remove it to start a fresh run", storePath),
			err,
		), globals.JSON)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	if globals.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: globals.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("metrics.http.start", "addr", globals.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	if err := os.RemoveAll(filepath.Join(tempRoot, "convert")); err != nil {
		clierr.FatalError(clierr.NewInternalError("Cannot wipe the scratch directory", err.Error(), "Check permissions on the temp directory", err), globals.JSON)
	}

	n, err := store.Total(ctx)
	if err != nil {
		clierr.FatalError(clierr.NewCatalogError("Cannot query the catalog", "Store read failed", "Check the database file for corruption", err), globals.JSON)
	}
	if n == 0 {
		logger.Info("discovery.start", "source", source)
		discovered, err := discovery.Walk(ctx, store, source)
		if err != nil {
			clierr.FatalError(clierr.NewInternalError("Discovery walk failed", err.Error(), "Check that the source path exists and is readable", err), globals.JSON)
		}
		logger.Info("discovery.complete", "files", discovered)
	}

	if *filecheck {
		runIntegrityCheck(ctx, store, source, globals, *yes)
	}

	filter := catalog.Filter{
		Mime:          *mime,
		PUID:          *puid,
		Ext:           *ext,
		Status:        catalog.Status(*status),
		FinishedOnly:  false,
		Reconvert:     *reconvert,
		Retry:         *retry,
		OriginalsOnly: false,
	}

	count, err := store.Count(ctx, filter)
	if err != nil {
		clierr.FatalError(clierr.NewCatalogError("Cannot count matching records", "Store read failed", "Check the database file for corruption", err), globals.JSON)
	}
	if !confirmRun(count, *yes, globals) {
		fmt.Fprintln(os.Stderr, "Aborted.")
		return 1
	}

	identifierCommand := settings.IdentifierTool
	if *identifierTool != "" {
		identifierCommand = *identifierTool
	}
	if !settings.UseExternalIdentifier {
		identifierCommand = ""
	}

	w := &worker.Worker{
		Recipes:    recipes,
		Identifier: identify.New(runner.New(), identifierCommand, settings.DefaultTimeout),
		Runner:     runner.New(),
		SourceRoot: source,
		DestRoot:   destRoot,
		TempRoot:   tempRoot,
		Options: worker.Options{
			OrigExt:          *origExt,
			SetSourceExt:     *setSourceExt,
			IdentifyOnly:     *identifyOnly,
			KeepOriginals:    *keepOriginals || settings.KeepOriginalsByDefault,
			Debug:            *debug,
			PurgeDescendants: *reconvert || *retry,
			DefaultTimeout:   settings.DefaultTimeout,
		},
	}

	var metrics *scheduler.Metrics
	if globals.MetricsAddr != "" {
		metrics = scheduler.NewMetrics(prometheus.DefaultRegisterer)
	}

	var bar *progressbar.ProgressBar
	if !globals.Quiet {
		bar = progressbar.NewOptions(count,
			progressbar.OptionSetDescription("converting"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWriter(os.Stderr),
		)
	}

	sched := &scheduler.Scheduler{
		Store:   store,
		Worker:  w,
		Workers: *workers,
		Multi:   *multi,
		Metrics: metrics,
		Progress: func(c scheduler.Counters) {
			if bar != nil {
				_ = bar.Set64(c.Finished)
			}
		},
	}

	// Run at the lowest scheduling priority: conversion is a background,
	// throughput-oriented workload that should not contend with anything
	// else on the machine.
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, 19); err != nil {
		logger.Warn("priority.setpriority.error", "err", err)
	}

	counters, err := sched.Run(ctx, filter)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		clierr.FatalError(clierr.NewCatalogError("Run aborted by a catalog error", "A store or writer operation failed", "Inspect the log output above, then re-run with --retry", err), globals.JSON)
	}

	printSummary(counters, globals)
	return 0
}

func runIntegrityCheck(ctx context.Context, store catalog.Store, source string, globals GlobalFlags, yes bool) {
	div, err := integrity.Compute(ctx, store, source)
	if err != nil {
		clierr.FatalError(clierr.NewInternalError("Integrity check failed", err.Error(), "Check that the source path is readable", err), globals.JSON)
	}
	if div.Empty() {
		return
	}

	action := promptIntegrityAction(div, yes)
	if action == integrity.ActionAbort {
		fmt.Fprintln(os.Stderr, "Aborted after integrity check.")
		os.Exit(1)
	}
	if err := integrity.Apply(ctx, store, action, div); err != nil {
		clierr.FatalError(clierr.NewCatalogError("Failed to apply integrity action", err.Error(), "Check the database file for corruption", err), globals.JSON)
	}
}

func printSummary(c scheduler.Counters, globals GlobalFlags) {
	if globals.Quiet {
		return
	}
	ui.Header("Conversion Complete")
	fmt.Printf("%s %s\n", ui.Label("Total:"), ui.CountText(int(c.Total)))
	fmt.Printf("%s %s\n", ui.Label("Finished:"), ui.CountText(int(c.Finished)))
	if c.Failed > 0 {
		_, _ = ui.Yellow.Printf("Failed: %d\n", c.Failed)
	}
	if c.Skipped > 0 {
		fmt.Printf("%s %s\n", ui.Label("Skipped:"), ui.DimText(fmt.Sprintf("%d", c.Skipped)))
	}
}

func loadSettingsWithDefaults(path string) (*config.Settings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		s := config.DefaultSettings()
		return &s, nil
	}
	s, err := config.LoadFile(path)
	if err != nil {
		return nil, clierr.NewConfigError(
			"Cannot load settings file",
			err.Error(),
			fmt.Sprintf("Check that %s is valid YAML", path),
			err,
		)
	}
	return s, nil
}

func loadRecipesWithDefaults(path string) (*recipe.Registry, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return recipe.Load([]byte(`{}`))
	}
	reg, err := recipe.LoadFile(path)
	if err != nil {
		return nil, clierr.NewConfigError(
			"Cannot load recipe registry",
			err.Error(),
			fmt.Sprintf("Check that %s is valid YAML", path),
			err,
		)
	}
	return reg, nil
}
