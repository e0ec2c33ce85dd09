// Command p2pconvert is a local smoke-test front door for the transfer
// core: it wires pipesubstrate, memsink, and localworker together,
// starts a receiver listening in-process, and sends one file through the
// full negotiate/chunk/finalize pipeline end to end.
//
// The concrete peer-to-peer substrate, human-facing configuration
// loading, and structured logging setup are peripheral to the core per
// §1; this command is that periphery, not a production deployment
// target.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/p2pconvert/config"
	"github.com/opd-ai/p2pconvert/contracts"
	"github.com/opd-ai/p2pconvert/contracts/localworker"
	"github.com/opd-ai/p2pconvert/contracts/memsink"
	"github.com/opd-ai/p2pconvert/contracts/pipesubstrate"
	"github.com/opd-ai/p2pconvert/flowcontrol"
	"github.com/opd-ai/p2pconvert/receiver"
	"github.com/opd-ai/p2pconvert/registry"
	"github.com/opd-ai/p2pconvert/sender"
)

// cliConfig holds the parsed command-line flags, validated before use.
type cliConfig struct {
	inputPath    string
	outputDir    string
	targetFormat string
	returnResult bool
	configPath   string
	logLevel     string
	sweepPeriod  time.Duration
}

func parseFlags() *cliConfig {
	c := &cliConfig{}

	flag.StringVar(&c.inputPath, "input", "", "path of the file to send (required)")
	flag.StringVar(&c.outputDir, "output-dir", "./p2pconvert-out", "directory the receiver writes accepted transfers to")
	flag.StringVar(&c.targetFormat, "target-format", "", "requested conversion target format, empty for none")
	flag.BoolVar(&c.returnResult, "return-result", false, "ask the responder to embed converted bytes in the final response")
	flag.StringVar(&c.configPath, "config", "", "optional TOML config file overriding flow-control defaults")
	flag.StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.DurationVar(&c.sweepPeriod, "sweep-period", 10*time.Second, "how often the registry sweeps terminated sessions past their grace period")

	flag.Parse()
	return c
}

func (c *cliConfig) validate() error {
	if c.inputPath == "" {
		return fmt.Errorf("p2pconvert: -input is required")
	}
	if _, err := os.Stat(c.inputPath); err != nil {
		return fmt.Errorf("p2pconvert: input file: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("p2pconvert failed")
	}
}

func run() error {
	cli := parseFlags()
	if err := cli.validate(); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cli.logLevel)
	if err != nil {
		return fmt.Errorf("p2pconvert: invalid -log-level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := flowcontrol.NewConfig(flowcontrol.Config{})
	if cli.configPath != "" {
		f, err := config.Load(cli.configPath)
		if err != nil {
			return err
		}
		cfg = f.FlowControl()
		if f.OutputDir != "" {
			cli.outputDir = f.OutputDir
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	network := pipesubstrate.NewNetwork()

	responderSubstrate, err := pipesubstrate.New(network)
	if err != nil {
		return fmt.Errorf("p2pconvert: responder identity: %w", err)
	}
	initiatorSubstrate, err := pipesubstrate.New(network)
	if err != nil {
		return fmt.Errorf("p2pconvert: initiator identity: %w", err)
	}

	sink, err := memsink.New(cli.outputDir)
	if err != nil {
		return err
	}
	worker := localworker.New()

	receiverRegistry := registry.New(registry.Limits{
		Global:       cfg.GlobalSessionCap,
		PerPeer:      cfg.PerPeerSessionCap,
		PerRole:      cfg.GlobalSessionCap,
		GraceTimeout: cfg.RegistryGrace,
	})
	senderRegistry := registry.New(registry.Limits{
		Global:       cfg.GlobalSessionCap,
		PerPeer:      cfg.PerPeerSessionCap,
		PerRole:      cfg.GlobalSessionCap,
		GraceTimeout: cfg.RegistryGrace,
	})

	clock := contracts.SystemClock{}

	recvEngine := receiver.NewEngine(responderSubstrate, clock, cfg, receiverRegistry, worker, sink, receiver.Options{
		SpillDir: os.TempDir(),
	})

	go sweepPeriodically(ctx, receiverRegistry, clock, cli.sweepPeriod)
	go sweepPeriodically(ctx, senderRegistry, clock, cli.sweepPeriod)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- recvEngine.Serve(ctx) }()

	sendEngine := sender.NewEngine(initiatorSubstrate, clock, cfg, senderRegistry)

	opts := sender.Options{
		TargetFormat:    cli.targetFormat,
		ReturnResult:    cli.returnResult,
		IntegrityChecks: true,
	}

	id, progressCh, resultCh, err := sendEngine.SendFile(ctx, responderSubstrate.ID(), cli.inputPath, opts)
	if err != nil {
		return fmt.Errorf("p2pconvert: send_file: %w", err)
	}
	logrus.WithField("transfer_id", id.String()).Info("transfer started")

	for progressCh != nil || resultCh != nil {
		select {
		case p, ok := <-progressCh:
			if !ok {
				progressCh = nil
				continue
			}
			logrus.WithFields(logrus.Fields{
				"percent":    fmt.Sprintf("%.1f%%", p.Percent),
				"throughput": fmt.Sprintf("%.0f B/s", p.ThroughputBps),
			}).Info("progress")
		case res, ok := <-resultCh:
			if !ok {
				resultCh = nil
				continue
			}
			return reportResult(res)
		}
	}
	return nil
}

func reportResult(res sender.Result) error {
	logrus.WithField("state", res.State.String()).Info("transfer finished")
	if res.Failure != nil {
		return fmt.Errorf("p2pconvert: transfer failed: %s", res.Failure.Error())
	}
	if res.Final != nil {
		fmt.Printf("converted_filename=%s processing_time_ms=%d\n", res.Final.ConvertedFilename, res.Final.ProcessingTimeMS)
	}
	return nil
}

func sweepPeriodically(ctx context.Context, reg *registry.Registry, clock interface {
	Now() time.Time
}, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := clock.Now()
			if removed := reg.Sweep(now); len(removed) > 0 {
				logrus.WithField("count", len(removed)).Debug("swept terminated sessions past grace period")
			}
		}
	}
}
