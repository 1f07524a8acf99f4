package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mhradec/autocomp/internal/logger"
	"github.com/mhradec/autocomp/internal/pipeline"
)

func main() {
	inputFile := flag.String("input_file", "", "Path to the video file to process")
	movieName := flag.String("movie_name", "", "Output name stem (default: input file name)")
	profilePath := flag.String("profile", "", "Path to the encoding profile YAML")
	settingsPath := flag.String("settings", "", "Path to the stage settings YAML")
	workspace := flag.String("workspace", "", "Base directory for workspaces and output")
	tools := flag.String("tools", "", "Directory holding ffmpeg, ffprobe, HandBrakeCLI, dovi_tool, hdr10plus_tool and the scorer (default: PATH)")
	logLevel := flag.String("log_level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger.Init(*logLevel)

	if *inputFile == "" || *profilePath == "" || *settingsPath == "" || *workspace == "" {
		fmt.Fprintln(os.Stderr, "required: --input_file, --profile, --settings, --workspace")
		flag.Usage()
		os.Exit(2)
	}

	name := *movieName
	if name == "" {
		base := filepath.Base(*inputFile)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if _, err := os.Stat(*inputFile); err != nil {
		logger.Error("input file not accessible", "path", *inputFile, "error", err)
		os.Exit(1)
	}

	// External tool runs inherit this context, so an interrupt stops the
	// current subprocess instead of orphaning it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(*tools)
	opts := pipeline.Options{
		InputFile:     *inputFile,
		MovieName:     name,
		ProfilePath:   *profilePath,
		SettingsPath:  *settingsPath,
		WorkspaceBase: *workspace,
		ToolsPath:     *tools,
		LogLevel:      *logLevel,
	}

	if err := p.Run(ctx, opts); err != nil {
		logger.Error("run failed", "input", *inputFile, "error", err)
		os.Exit(1)
	}
	logger.Info("run complete", "input", *inputFile, "name", name)
}
