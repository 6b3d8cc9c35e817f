package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/mdmcache-go/internal/cli/connection"
	"github.com/yndnr/mdmcache-go/internal/cli/output"
	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/snapshot"
)

// ManifestRow is one class of a manifest listing.
type ManifestRow struct {
	Class    domain.ClassName `json:"class" yaml:"class"`
	Count    int              `json:"count" yaml:"count"`
	Size     int64            `json:"size" yaml:"size"`
	Checksum string           `json:"checksum" yaml:"checksum"`
}

func manifestRows(m domain.Manifest) []ManifestRow {
	rows := make([]ManifestRow, 0, len(m))
	for _, name := range m.Classes() {
		e := m[name]
		rows = append(rows, ManifestRow{Class: name, Count: e.Count, Size: e.Size, Checksum: e.Checksum})
	}
	return rows
}

// RebuildCommand rebuilds a partition.
func RebuildCommand() *cli.Command {
	return &cli.Command{
		Name:      "rebuild",
		Usage:     "Rebuild a partition and print its manifest",
		ArgsUsage: "ZONE [SUFFIX]",
		Description: "Without SUFFIX the master partition is rebuilt. SUFFIX \"common\" rebuilds\n" +
			"the classes shared by all branches; any other suffix names a branch.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "param",
				Usage: "Job parameter as KEY=VALUE, visible to build filters",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not report classes as they are built",
			},
		},
		Action: rebuild,
	}
}

func rebuild(c *cli.Context) error {
	zone, suffix, err := partitionArgs(c)
	if err != nil {
		return err
	}
	job, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	var onClass func(domain.ClassName)
	if !c.Bool("quiet") {
		onClass = func(name domain.ClassName) {
			fmt.Fprintf(c.App.ErrWriter, "built %s\n", name)
		}
	}
	m, err := client.Rebuild(ctx, zone, suffix, job, onClass)
	if err != nil {
		return err
	}
	return render(c, manifestRows(m))
}

func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want KEY=VALUE", p)
		}
		out[k] = v
	}
	return out, nil
}

// FetchCommand downloads a partition stream.
func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Download a built partition",
		ArgsUsage: "ZONE [SUFFIX]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "out",
				Usage: "Write the stream to this file instead of stdout",
			},
			&cli.StringFlag{
				Name:  "split",
				Usage: "Write one file per class into this directory",
			},
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "Check the classes against the partition manifest",
			},
			&cli.StringFlag{
				Name:  "checksum",
				Usage: "Checksum algorithm of the server: crc32, murmur3, blake3",
				Value: snapshot.ChecksumCRC32,
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Report transferred bytes on stderr",
			},
		},
		Action: fetch,
	}
}

func fetch(c *cli.Context) error {
	zone, suffix, err := partitionArgs(c)
	if err != nil {
		return err
	}
	sum, err := snapshot.NewChecksum(c.String("checksum"))
	if err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	inspect := c.String("split") != "" || c.Bool("verify")
	outPath := c.String("out")

	var dst io.Writer = c.App.Writer
	var file *os.File
	switch {
	case outPath != "":
		if file, err = os.Create(outPath); err != nil {
			return err
		}
	case inspect:
		if file, err = os.CreateTemp("", "mdm-fetch-*"); err != nil {
			return err
		}
		defer os.Remove(file.Name())
	}
	if file != nil {
		defer file.Close()
		dst = file
	}

	var progress *output.ProgressWriter
	if c.Bool("progress") {
		progress = output.NewProgressWriter(dst, c.App.ErrWriter, "fetch")
		dst = progress
	}
	res, err := client.Fetch(ctx, zone, suffix, dst)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return err
	}
	if !inspect {
		return nil
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	payloads, err := snapshot.Split(file)
	if err != nil {
		return err
	}

	if c.Bool("verify") {
		m, err := streamManifest(ctx, client, res.Descriptor, zone, suffix)
		if err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
		expected := append(slices.Clone(res.Descriptor.Classes), res.Descriptor.Missing...)
		if err := snapshot.Verify(payloads, m, sum, expected...); err != nil {
			return err
		}
		fmt.Fprintf(c.App.ErrWriter, "verified %d classes against the manifest\n", len(payloads))
	}
	if dir := c.String("split"); dir != "" {
		if err := writePayloads(dir, payloads); err != nil {
			return err
		}
	}

	rows := make([]PayloadRow, len(payloads))
	for i, p := range payloads {
		rows[i] = PayloadRow{Class: p.Name, Rows: len(p.Rows), Bytes: len(p.Raw)}
	}
	return render(c, rows)
}

// PayloadRow summarizes one class of a fetched stream.
type PayloadRow struct {
	Class domain.ClassName `json:"class" yaml:"class"`
	Rows  int              `json:"rows" yaml:"rows"`
	Bytes int              `json:"bytes" yaml:"bytes"`
}

// streamManifest returns the manifest describing a stream. A branch stream
// also carries master classes, so the master manifest is merged under it.
func streamManifest(ctx context.Context, client *connection.Client, desc snapshot.Descriptor, zone, suffix string) (domain.Manifest, error) {
	if desc.Zone != "" {
		zone, suffix = desc.Zone, desc.Suffix
	}
	key := domain.NewPartitionKey(zone, suffix)

	m, err := client.Manifest(ctx, key.Zone, key.Suffix)
	if err != nil {
		return nil, err
	}
	if key.IsCommon() || key.IsMaster() {
		return m, nil
	}
	master, err := client.Manifest(ctx, key.Zone, domain.SuffixMaster)
	if err != nil {
		return nil, err
	}
	maps.Copy(master, m)
	return master, nil
}

func writePayloads(dir string, payloads []snapshot.Payload) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var errs []error
	for _, p := range payloads {
		if !p.Name.Valid() {
			errs = append(errs, fmt.Errorf("skipping payload with invalid class %q", p.Name))
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, p.Name.FileName()), p.Raw, 0o644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ManifestCommand prints the manifest of a partition.
func ManifestCommand() *cli.Command {
	return &cli.Command{
		Name:      "manifest",
		Usage:     "Show the manifest of a built partition",
		ArgsUsage: "ZONE [SUFFIX]",
		Action: func(c *cli.Context) error {
			zone, suffix, err := partitionArgs(c)
			if err != nil {
				return err
			}
			client, err := newClient(c)
			if err != nil {
				return err
			}
			m, err := client.Manifest(c.Context, zone, suffix)
			if err != nil {
				return err
			}
			return render(c, manifestRows(m))
		},
	}
}

// PlanCommand prints the class load order.
func PlanCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Show the load order of the registered classes",
		Action: func(c *cli.Context) error {
			client, err := newClient(c)
			if err != nil {
				return err
			}
			tiers, err := client.Plan(c.Context)
			if err != nil {
				return err
			}
			return render(c, tiers)
		},
	}
}

// StatusCommand asks the readiness probe.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check that the server is ready",
		Action: func(c *cli.Context) error {
			client, err := newClient(c)
			if err != nil {
				return err
			}
			if err := client.Ready(c.Context); err != nil {
				return fmt.Errorf("%s is not ready: %w", client.BaseURL(), err)
			}
			fmt.Fprintf(c.App.Writer, "%s is ready\n", client.BaseURL())
			return nil
		},
	}
}
