// Package cli implements the duchy command line interface. A duchy is one
// node of a multi-party computation ring aggregating liquid legions sketches
// without any party seeing another's raw data.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/nikkolasg/hexjson"
	"github.com/urfave/cli/v2"

	"github.com/duchynet/duchy/blob/s3blob"
	"github.com/duchynet/duchy/computation"
	"github.com/duchynet/duchy/core"
	"github.com/duchynet/duchy/log"
	"github.com/duchynet/duchy/net"
)

// Automatically set through -ldflags
// Example: go install -ldflags "-X main.version=`git describe --tags`"
var (
	version   = "master"
	gitCommit = "none"
	buildDate = "unknown"
)

var folderFlag = &cli.StringFlag{
	Name:  "folder",
	Value: core.DefaultConfigFolder(),
	Usage: "Folder to keep the duchy's database and state, with absolute path.",
}

var ringFlag = &cli.StringFlag{
	Name:     "ring",
	Usage:    "Path to the TOML file describing the duchy ring.",
	Required: true,
}

var selfFlag = &cli.StringFlag{
	Name:     "self",
	Usage:    "Name this duchy appears under in the ring file.",
	Required: true,
}

var listenFlag = &cli.StringFlag{
	Name:  "listen",
	Usage: "Binding address of the inter-duchy API.",
	Value: core.DefaultListenAddress,
}

var tlsCertFlag = &cli.StringFlag{
	Name:  "tls-cert",
	Usage: "TLS certificate chain (PEM format) for this duchy.",
}

var tlsKeyFlag = &cli.StringFlag{
	Name:  "tls-key",
	Usage: "TLS private key (PEM format) for this duchy.",
}

var insecureFlag = &cli.BoolFlag{
	Name:  "tls-disable",
	Usage: "Disable TLS for all communications (not recommended).",
}

var metricsFlag = &cli.IntFlag{
	Name:  "metrics",
	Usage: "Launch a prometheus metrics server at the specified port.",
}

var pollFlag = &cli.DurationFlag{
	Name:  "poll-interval",
	Usage: "How often the mill scans for claimable stages.",
	Value: core.DefaultPollInterval,
}

var s3RegionFlag = &cli.StringFlag{
	Name:  "s3-region",
	Usage: "AWS region of the artifact bucket. Artifacts stay in memory when unset.",
}

var s3BucketFlag = &cli.StringFlag{
	Name:  "s3-bucket",
	Usage: "S3 bucket artifacts are persisted to.",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "If set, verbosity is at the debug level.",
}

var jsonFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Set the output as json format.",
}

var idFlag = &cli.StringFlag{
	Name:     "id",
	Usage:    "Global id of the computation.",
	Required: true,
}

var duchyAddrFlag = &cli.StringFlag{
	Name:     "address",
	Usage:    "host:port of the duchy to contact.",
	Required: true,
}

var duchyTLSFlag = &cli.BoolFlag{
	Name:  "tls",
	Usage: "Contact the duchy over TLS.",
}

// CLI builds the duchy command line application.
func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "duchy"
	app.Version = version
	app.Usage = "one node of a privacy preserving sketch aggregation ring"
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(c.App.Writer, "duchy %s (date %v, commit %v)\n", version, buildDate, gitCommit)
	}

	app.Commands = []*cli.Command{
		{
			Name:  "start",
			Usage: "Start the duchy daemon",
			Flags: []cli.Flag{
				folderFlag, ringFlag, selfFlag, listenFlag,
				tlsCertFlag, tlsKeyFlag, insecureFlag,
				metricsFlag, pollFlag, s3RegionFlag, s3BucketFlag,
				verboseFlag, jsonFlag,
			},
			Action: startCmd,
		},
		{
			Name:  "get-token",
			Usage: "Fetch and print the computation token a duchy holds",
			Flags: []cli.Flag{idFlag, duchyAddrFlag, duchyTLSFlag, verboseFlag, jsonFlag},
			Action: getTokenCmd,
		},
	}
	return app
}

func logger(c *cli.Context) log.Logger {
	level := log.InfoLevel
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	return log.New(nil, level, c.Bool(jsonFlag.Name))
}

func configFromFlags(c *cli.Context, l log.Logger) (*core.Config, error) {
	ring, err := core.LoadRing(c.String(ringFlag.Name))
	if err != nil {
		return nil, err
	}

	opts := []core.ConfigOption{
		core.WithConfigFolder(c.String(folderFlag.Name)),
		core.WithListenAddress(c.String(listenFlag.Name)),
		core.WithPollInterval(c.Duration(pollFlag.Name)),
		core.WithLogger(l),
	}
	if c.Bool(insecureFlag.Name) {
		opts = append(opts, core.WithInsecure())
	} else {
		cert, key := c.String(tlsCertFlag.Name), c.String(tlsKeyFlag.Name)
		if cert == "" || key == "" {
			return nil, fmt.Errorf("tls-cert and tls-key are required unless --tls-disable is set")
		}
		opts = append(opts, core.WithTLS(cert, key))
	}
	if port := c.Int(metricsFlag.Name); port != 0 {
		opts = append(opts, core.WithMetricsPort(port))
	}
	if region, bucket := c.String(s3RegionFlag.Name), c.String(s3BucketFlag.Name); bucket != "" {
		blobs, err := s3blob.NewStore(l, region, bucket)
		if err != nil {
			return nil, fmt.Errorf("connecting to bucket %q: %w", bucket, err)
		}
		opts = append(opts, core.WithBlobStore(blobs))
	}

	return core.NewConfig(c.String(selfFlag.Name), ring, opts...), nil
}

func startCmd(c *cli.Context) error {
	l := logger(c)
	cfg, err := configFromFlags(c, l)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	daemon, err := core.NewDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	daemon.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return daemon.Stop(stopCtx)
}

func getTokenCmd(c *cli.Context) error {
	l := logger(c)
	client := net.NewControlClient(l)
	defer func() { _ = client.Stop() }()

	peer := net.CreatePeer(c.String(duchyAddrFlag.Name), c.Bool(duchyTLSFlag.Name))
	resp, err := client.GetComputationToken(c.Context, peer, &net.GetTokenRequest{
		ComputationID: c.String(idFlag.Name),
		Protocol:      computation.LiquidLegionsV1,
	})
	if err != nil {
		return err
	}

	if c.Bool(jsonFlag.Name) {
		buf, err := json.Marshal(resp.Token)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(buf))
		return nil
	}
	tok := resp.Token
	fmt.Fprintf(c.App.Writer, "computation %s\n", tok.GlobalID)
	fmt.Fprintf(c.App.Writer, "  stage:   %s\n", tok.Stage)
	fmt.Fprintf(c.App.Writer, "  role:    %s\n", tok.Role)
	fmt.Fprintf(c.App.Writer, "  version: %d\n", tok.Version)
	for _, s := range tok.Slots {
		state := "pending"
		if s.Path != "" {
			state = s.Path
		}
		fmt.Fprintf(c.App.Writer, "  slot %-24q %s\n", s.Label, state)
	}
	return nil
}
