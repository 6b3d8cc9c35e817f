// Package command defines the mdm-cli commands.
package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/mdmcache-go/internal/cli/config"
	"github.com/yndnr/mdmcache-go/internal/cli/connection"
	"github.com/yndnr/mdmcache-go/internal/cli/output"
	"github.com/yndnr/mdmcache-go/internal/infra/buildinfo"
)

const (
	metaConfig     = "config"
	metaConfigPath = "configPath"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "mdm-cli",
		Usage:                "Build, fetch and feed master-data partitions",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			RebuildCommand(),
			FetchCommand(),
			ManifestCommand(),
			PlanCommand(),
			StatusCommand(),
			RecordsCommand(),
			TokenCommand(),
			ProfileCommand(),
		},
		Before: func(c *cli.Context) error {
			path := c.String("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load cli config: %w", err)
			}
			if c.App.Metadata == nil {
				c.App.Metadata = make(map[string]any)
			}
			c.App.Metadata[metaConfig] = cfg
			c.App.Metadata[metaConfigPath] = path
			return nil
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI configuration file",
			EnvVars: []string{"MDM_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "Saved server profile to use",
			EnvVars: []string{"MDM_PROFILE"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Server address (e.g., https://mdm.example.com:5080)",
			EnvVars: []string{"MDM_SERVER"},
		},
		&cli.StringFlag{
			Name:    "token",
			Aliases: []string{"t"},
			Usage:   "Bearer token",
			EnvVars: []string{"MDM_TOKEN"},
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "Extra CA certificate for HTTPS servers",
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "Skip TLS certificate verification",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Timeout of non-streaming requests",
			Value: connection.DefaultTimeout,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
	}
}

func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// resolveProfile merges the selected profile with explicit flags.
func resolveProfile(c *cli.Context) (config.Profile, error) {
	name := c.String("profile")
	p, ok := cliConfig(c).Profile(name)
	if !ok {
		return p, fmt.Errorf("unknown profile %q", name)
	}
	if c.IsSet("server") {
		p.Server = c.String("server")
	}
	if c.IsSet("token") {
		p.Token = c.String("token")
	}
	if c.IsSet("ca-file") {
		p.CAFile = c.String("ca-file")
	}
	if c.IsSet("insecure") {
		p.Insecure = c.Bool("insecure")
	}
	return p, nil
}

// newClient builds a client from the profile and flags.
func newClient(c *cli.Context) (*connection.Client, error) {
	p, err := resolveProfile(c)
	if err != nil {
		return nil, err
	}
	return connection.New(connection.Options{
		Server:   p.Server,
		Token:    p.Token,
		CAFile:   p.CAFile,
		Insecure: p.Insecure,
		Timeout:  c.Duration("timeout"),
	})
}

// formatter returns the formatter selected by --output or the config.
func formatter(c *cli.Context) (output.Formatter, error) {
	name := c.String("output")
	if name == "" {
		name = cliConfig(c).Output
	}
	f, err := output.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return output.NewFormatter(f), nil
}

func render(c *cli.Context, data any) error {
	f, err := formatter(c)
	if err != nil {
		return err
	}
	return f.Format(c.App.Writer, data)
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// partitionArgs reads "ZONE [SUFFIX]".
func partitionArgs(c *cli.Context) (zone, suffix string, err error) {
	args := c.Args()
	if args.Len() < 1 || args.Len() > 2 {
		return "", "", fmt.Errorf("usage: %s %s", c.Command.FullName(), c.Command.ArgsUsage)
	}
	return args.Get(0), args.Get(1), nil
}
