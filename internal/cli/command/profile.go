package command

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/mdmcache-go/internal/cli/config"
)

// ProfileRow is one line of the profile listing.
type ProfileRow struct {
	Name     string `json:"name" yaml:"name"`
	Server   string `json:"server" yaml:"server"`
	Token    bool   `json:"token" yaml:"token"`
	Insecure bool   `json:"insecure" yaml:"insecure"`
	Current  bool   `json:"current" yaml:"current"`
}

// ProfileCommand manages saved server profiles.
func ProfileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Manage server profiles in the CLI config",
		Subcommands: []*cli.Command{
			{
				Name:      "save",
				Usage:     "Save the connection flags as a profile",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("usage: %s NAME", c.Command.FullName())
					}
					name := c.Args().First()
					cfg := cliConfig(c)
					if cfg.Profiles == nil {
						cfg.Profiles = make(map[string]config.Profile)
					}
					p := config.Profile{
						Server:   c.String("server"),
						Token:    c.String("token"),
						CAFile:   c.String("ca-file"),
						Insecure: c.Bool("insecure"),
					}
					if p.Server == "" {
						p.Server = config.DefaultServer
					}
					cfg.Profiles[name] = p
					if cfg.Current == "" {
						cfg.Current = name
					}
					if err := config.Save(cfg, configPath(c)); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "profile %q saved\n", name)
					return nil
				},
			},
			{
				Name:      "use",
				Usage:     "Make a profile the default",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("usage: %s NAME", c.Command.FullName())
					}
					name := c.Args().First()
					cfg := cliConfig(c)
					if _, ok := cfg.Profiles[name]; !ok {
						return fmt.Errorf("unknown profile %q", name)
					}
					cfg.Current = name
					if err := config.Save(cfg, configPath(c)); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "using profile %q\n", name)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List saved profiles",
				Action: func(c *cli.Context) error {
					cfg := cliConfig(c)
					rows := make([]ProfileRow, 0, len(cfg.Profiles))
					for name, p := range cfg.Profiles {
						rows = append(rows, ProfileRow{
							Name:     name,
							Server:   p.Server,
							Token:    p.Token != "",
							Insecure: p.Insecure,
							Current:  name == cfg.Current,
						})
					}
					sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
					return render(c, rows)
				},
			},
		},
	}
}

func configPath(c *cli.Context) string {
	if path, ok := c.App.Metadata[metaConfigPath].(string); ok && path != "" {
		return path
	}
	return config.DefaultConfigPath()
}
