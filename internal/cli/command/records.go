package command

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// RecordsCommand feeds and inspects the record store.
func RecordsCommand() *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "Manage source records on the server",
		Subcommands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Store the records of a JSON or YAML array file",
				ArgsUsage: "CLASS FILE",
				Action:    importRecords,
			},
			{
				Name:      "count",
				Usage:     "Count the records of a class",
				ArgsUsage: "CLASS",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("usage: %s CLASS", c.Command.FullName())
					}
					client, err := newClient(c)
					if err != nil {
						return err
					}
					n, err := client.CountRecords(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					return render(c, map[string]any{"class": c.Args().First(), "count": n})
				},
			},
			{
				Name:      "get",
				Usage:     "Show one record",
				ArgsUsage: "CLASS REF",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 2 {
						return fmt.Errorf("usage: %s CLASS REF", c.Command.FullName())
					}
					client, err := newClient(c)
					if err != nil {
						return err
					}
					rec, err := client.GetRecord(c.Context, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return err
					}
					return render(c, map[string]any(rec))
				},
			},
			{
				Name:      "delete",
				Usage:     "Remove one record",
				ArgsUsage: "CLASS REF",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 2 {
						return fmt.Errorf("usage: %s CLASS REF", c.Command.FullName())
					}
					client, err := newClient(c)
					if err != nil {
						return err
					}
					if err := client.DeleteRecord(c.Context, c.Args().Get(0), c.Args().Get(1)); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "deleted %s/%s\n", c.Args().Get(0), c.Args().Get(1))
					return nil
				},
			},
		},
	}
}

func importRecords(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: %s CLASS FILE", c.Command.FullName())
	}
	class, path := c.Args().Get(0), c.Args().Get(1)
	records, err := readRecords(path)
	if err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	n, err := client.PutRecords(ctx, class, records)
	if err != nil {
		return err
	}
	return render(c, map[string]any{"class": class, "stored": n})
}

// readRecords decodes a record array. Files ending in .yaml or .yml are
// read as YAML, everything else as JSON.
func readRecords(path string) ([]domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []domain.Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw []map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, r := range raw {
			records = append(records, domain.Record(r))
		}
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	for i, r := range records {
		if r.Ref() == "" {
			return nil, fmt.Errorf("%s: record %d has no ref", path, i+1)
		}
	}
	return records, nil
}
