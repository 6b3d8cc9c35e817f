package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// Payload is one class file recovered from a concatenated stream.
type Payload struct {
	Name domain.ClassName
	Rows []json.RawMessage
	// Raw holds the payload bytes including the line terminator.
	Raw []byte
}

// Split parses a concatenated stream back into class payloads. Every
// payload is one line, since JSON encoding escapes embedded newlines.
func Split(r io.Reader) ([]Payload, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var out []Payload
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if !bytes.HasSuffix(line, []byte("\r\n")) {
				return out, fmt.Errorf("snapshot: payload %d is truncated", len(out)+1)
			}
			var p struct {
				Name string            `json:"name"`
				Rows []json.RawMessage `json:"rows"`
			}
			if err := json.Unmarshal(line, &p); err != nil {
				return out, fmt.Errorf("snapshot: decode payload %d: %w", len(out)+1, err)
			}
			out = append(out, Payload{Name: domain.ClassName(p.Name), Rows: p.Rows, Raw: line})
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// Verify checks payloads against a manifest. Payloads of classes the
// manifest does not list are ignored, since a branch stream also carries
// master classes described by the master manifest. Every expected class the
// manifest lists must be present among the payloads.
func Verify(payloads []Payload, m domain.Manifest, sum Checksum, expected ...domain.ClassName) error {
	if sum == nil {
		sum = crc32Sum
	}
	var problems []string
	seen := make(map[domain.ClassName]struct{}, len(payloads))
	for _, p := range payloads {
		seen[p.Name] = struct{}{}
		entry, ok := m[p.Name]
		if !ok {
			continue
		}
		if entry.Count != len(p.Rows) {
			problems = append(problems, fmt.Sprintf("%s: count %d, manifest %d", p.Name, len(p.Rows), entry.Count))
		}
		if entry.Size != int64(len(p.Raw)) {
			problems = append(problems, fmt.Sprintf("%s: size %d, manifest %d", p.Name, len(p.Raw), entry.Size))
		}
		if got := sum(p.Raw); got != entry.Checksum {
			problems = append(problems, fmt.Sprintf("%s: checksum %s, manifest %s", p.Name, got, entry.Checksum))
		}
	}
	for _, name := range expected {
		if _, ok := seen[name]; ok {
			continue
		}
		if _, ok := m[name]; ok {
			seen[name] = struct{}{}
			problems = append(problems, fmt.Sprintf("%s: missing from stream", name))
		}
	}
	if len(problems) > 0 {
		return domain.ErrIOFailure.WithDetails(strings.Join(problems, "; "))
	}
	return nil
}
