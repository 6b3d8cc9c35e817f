package command

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/mdmcache-go/pkg/token"
)

// tokenEntry mirrors one security.tokens entry of the server config.
type tokenEntry struct {
	User   string `yaml:"user"`
	Hash   string `yaml:"hash"`
	Suffix string `yaml:"suffix,omitempty"`
}

// TokenCommand issues bearer tokens for the server configuration.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue and hash bearer tokens",
		Subcommands: []*cli.Command{
			{
				Name:  "new",
				Usage: "Generate a token and print its server config entry",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User the token authenticates",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "suffix",
						Usage: "Branch suffix the user is bound to",
					},
				},
				Action: func(c *cli.Context) error {
					tok, err := token.New()
					if err != nil {
						return err
					}
					entry := tokenEntry{User: c.String("user"), Hash: token.Hash(tok), Suffix: c.String("suffix")}
					snippet, err := yaml.Marshal(map[string]any{
						"security": map[string]any{"tokens": []tokenEntry{entry}},
					})
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "token: %s\n\n", tok)
					fmt.Fprintf(c.App.Writer, "# server config entry, the token itself is not stored\n%s", snippet)
					return nil
				},
			},
			{
				Name:      "hash",
				Usage:     "Print the hash of an existing token",
				ArgsUsage: "TOKEN",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("usage: %s TOKEN", c.Command.FullName())
					}
					tok := c.Args().First()
					if !token.Issued(tok) {
						fmt.Fprintf(c.App.ErrWriter, "warning: token does not carry the %q prefix\n", token.Prefix)
					}
					fmt.Fprintln(c.App.Writer, token.Hash(tok))
					return nil
				},
			},
		},
	}
}
