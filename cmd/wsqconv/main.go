package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/wsq-bridge/internal/config"
	"github.com/woxQAQ/wsq-bridge/internal/metrics"
	"github.com/woxQAQ/wsq-bridge/internal/service"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `Usage: wsqconv [flags] <command> [command flags]

Commands:
  decode -in file.wsq [-out file.png]
  encode -in file.png [-out file.wsq] [-bitrate 2.25] [-ppi 500] [-comment text]

Flags:
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("wsqconv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "Path to configuration file")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	metricsOut := fs.String("metrics-out", "", "Write Prometheus metrics to this textfile on exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "wsqconv: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsOut != "" {
		cfg.Metrics.Enabled = true
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "wsqconv: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Debug("Starting wsqconv",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	var cmd func(context.Context, *service.Service, []string, *zap.Logger) error
	switch name := fs.Arg(0); name {
	case "decode":
		cmd = runDecode
	case "encode":
		cmd = runEncode
	default:
		fmt.Fprintf(stderr, "wsqconv: unknown command %q\n", name)
		fs.Usage()
		return 2
	}

	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start WSQ service", zap.Error(err))
		return 1
	}

	err = cmd(ctx, svc, fs.Args()[1:], logger)

	if cerr := svc.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
		err = cerr
	}

	if *metricsOut != "" {
		if merr := metrics.WriteTextfile(*metricsOut); merr != nil {
			logger.Error("Failed to write metrics", zap.String("path", *metricsOut), zap.Error(merr))
		}
	}

	if err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "wsqconv: %v\n", err)
			return 2
		}
		logger.Error("Command failed", zap.String("command", fs.Arg(0)), zap.Error(err))
		return 1
	}
	return 0
}

type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func runDecode(ctx context.Context, svc *service.Service, args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	in := fs.String("in", "", "Input WSQ file")
	out := fs.String("out", "", "Output PNG file (defaults to the input name with .png)")
	if err := fs.Parse(args); err != nil {
		return &usageError{msg: err.Error()}
	}
	if *in == "" {
		return &usageError{msg: "decode: -in is required"}
	}

	output := *out
	if output == "" {
		output = replaceExt(*in, ".png")
	}

	img, err := svc.Bridge().DecodeFile(ctx, *in)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img.Gray()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write '%s': %w", output, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	logger.Info("Decoded WSQ image",
		zap.String("in", *in),
		zap.String("out", output),
		zap.Int32("width", img.Width),
		zap.Int32("height", img.Height),
		zap.Int32("ppi", img.PPI),
	)
	return nil
}

func runEncode(ctx context.Context, svc *service.Service, args []string, logger *zap.Logger) error {
	opts := svc.EncodeOptions()

	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	in := fs.String("in", "", "Input PNG file")
	out := fs.String("out", "", "Output WSQ file (defaults to the input name with .wsq)")
	bitrate := fs.Float64("bitrate", float64(opts.Bitrate), "Target bitrate (2.25 for ~5:1, 0.75 for ~15:1)")
	ppi := fs.Int("ppi", int(opts.PPI), "Resolution in pixels per inch, -1 if unknown")
	comment := fs.String("comment", "", "Comment stored in the WSQ stream")
	if err := fs.Parse(args); err != nil {
		return &usageError{msg: err.Error()}
	}
	if *in == "" {
		return &usageError{msg: "encode: -in is required"}
	}

	opts.Bitrate = float32(*bitrate)
	opts.PPI = int32(*ppi)
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "comment" {
			opts.Comment = comment
		}
	})

	output := *out
	if output == "" {
		output = replaceExt(*in, ".wsq")
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", *in, err)
	}

	data, err := svc.Bridge().EncodeImage(ctx, img, opts)
	if err != nil {
		return err
	}

	if err := os.WriteFile(output, data, 0o644); err != nil {
		return err
	}

	logger.Info("Encoded WSQ image",
		zap.String("in", *in),
		zap.String("out", output),
		zap.Int("size_bytes", len(data)),
		zap.Float32("bitrate", opts.Bitrate),
	)
	return nil
}

func replaceExt(path, ext string) string {
	return path[:len(path)-len(filepath.Ext(path))] + ext
}
