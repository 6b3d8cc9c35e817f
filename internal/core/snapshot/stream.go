package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/yndnr/mdmcache-go/internal/core/catalog"
	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/planner"
	"github.com/yndnr/mdmcache-go/internal/core/registry"
	"github.com/yndnr/mdmcache-go/internal/storage/partition"
)

// Descriptor summarizes a served partition. It is sent ahead of the data.
type Descriptor struct {
	Zone     string             `json:"zone"`
	Suffix   string             `json:"suffix"`
	ByBranch []domain.ClassName `json:"by_branch"`
	Common   []domain.ClassName `json:"common"`
	Classes  []domain.ClassName `json:"classes"`
	// Missing lists served classes whose files were absent when the
	// stream was opened.
	Missing []domain.ClassName `json:"missing,omitempty"`
}

// ServerConfig wires a Server.
type ServerConfig struct {
	Cache    *partition.Cache
	Registry *registry.Registry
	Planner  *planner.Planner
	Catalog  *catalog.Catalog
	Metrics  Metrics
	Logger   *slog.Logger
}

// Server serves built partitions as one concatenated stream.
type Server struct {
	cache   *partition.Cache
	reg     *registry.Registry
	planner *planner.Planner
	catalog *catalog.Catalog
	metrics Metrics
	logger  *slog.Logger
}

// NewServer creates a Server. Cache and Registry are required.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Cache == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("snapshot: cache and registry are required")
	}
	s := &Server{
		cache:   cfg.Cache,
		reg:     cfg.Registry,
		planner: cfg.Planner,
		catalog: cfg.Catalog,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if s.planner == nil {
		s.planner = planner.New()
	}
	if s.catalog == nil {
		s.catalog = catalog.Default()
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Classes returns the classes served for a key, in load order: the common
// classes for the common partition, every other class otherwise.
func (s *Server) Classes(key domain.PartitionKey) []domain.ClassName {
	var out []domain.ClassName
	for _, name := range s.planner.Plan(s.reg).Flatten() {
		if _, ok := s.reg.Resolve(name); !ok {
			continue
		}
		if key.IsCommon() != s.catalog.IsCommon(name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Descriptor returns the descriptor of a partition without opening it.
func (s *Server) Descriptor(key domain.PartitionKey) Descriptor {
	return Descriptor{
		Zone:     key.Zone,
		Suffix:   key.Suffix,
		ByBranch: s.catalog.ByBranch(),
		Common:   s.catalog.Common(),
		Classes:  s.Classes(key),
	}
}

// Open resolves a partition and lists its class files. A partition that was
// never built is ErrPartitionNotFound, reported before any byte is produced.
// Files missing from a built partition are skipped with a warning. Files are
// opened one at a time as the stream reaches them. The caller must Close the
// stream.
func (s *Server) Open(ctx context.Context, key domain.PartitionKey) (*Stream, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	own, err := s.cache.Resolve(key)
	if err != nil {
		return nil, err
	}
	master := own
	if !key.IsCommon() && !key.IsMaster() {
		master, err = s.cache.Path(key.Zone, domain.SuffixMaster)
		if err != nil && !errors.Is(err, domain.ErrPartitionNotFound) {
			return nil, err
		}
		if err != nil {
			master = ""
			s.logger.Warn("master partition missing, serving branch classes only", "zone", key.Zone)
		}
	}

	desc := s.Descriptor(key)
	st := &Stream{open: s.cache.Open, metrics: s.metrics, logger: s.logger}
	var missing []domain.ClassName
	for _, name := range desc.Classes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := master
		if !key.IsCommon() && s.catalog.IsByBranch(name) {
			dir = own
		}
		if dir == "" {
			missing = append(missing, name)
			continue
		}
		path := filepath.Join(dir, name.FileName())
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("class file missing from partition",
					"zone", key.Zone, "suffix", key.Suffix, "class", name)
				missing = append(missing, name)
				continue
			}
			return nil, domain.ErrIOFailure.Wrap(err)
		}
		st.files = append(st.files, streamFile{class: name, path: path})
		st.classes = append(st.classes, name)
	}
	desc.Classes = st.classes
	desc.Missing = missing
	st.desc = desc

	s.metrics.StreamOpened()
	stop := context.AfterFunc(ctx, func() { st.closeWith(ctx.Err()) })
	st.mu.Lock()
	st.stop = stop
	st.mu.Unlock()
	return st, nil
}

type streamFile struct {
	class domain.ClassName
	path  string
}

// Stream concatenates class files in load order. At most one file is open
// at a time: it is opened when the previous one drains and closed as soon
// as it is drained itself. Cancelling the context passed to Open closes the
// stream.
type Stream struct {
	mu      sync.Mutex
	open    partition.Opener
	files   []streamFile
	classes []domain.ClassName
	cur     io.ReadCloser
	next    int
	read    int64
	closed  bool
	err     error
	desc    Descriptor
	metrics Metrics
	logger  *slog.Logger
	stop    func() bool
}

// Descriptor returns the descriptor of the opened partition. Its class list
// holds the classes present when the stream was opened; the others are
// listed as missing.
func (s *Stream) Descriptor() Descriptor {
	return s.desc
}

// Classes returns the classes in stream order.
func (s *Stream) Classes() []domain.ClassName {
	return append([]domain.ClassName(nil), s.classes...)
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			if s.err != nil {
				return 0, s.err
			}
			return 0, io.ErrClosedPipe
		}
		if s.next >= len(s.files) {
			return 0, io.EOF
		}
		f := s.files[s.next]
		if s.cur == nil {
			rc, err := s.open(f.path)
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("class file removed while streaming", "class", f.class)
				s.next++
				continue
			}
			if err != nil {
				return 0, domain.ErrIOFailure.Wrap(fmt.Errorf("open %s: %w", f.class, err))
			}
			s.cur = rc
		}
		n, err := s.cur.Read(p)
		s.read += int64(n)
		if errors.Is(err, io.EOF) {
			s.cur.Close()
			s.cur = nil
			s.next++
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, domain.ErrIOFailure.Wrap(fmt.Errorf("read %s: %w", f.class, err))
		}
		return n, nil
	}
}

// Close releases the open file handle. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeWith(nil)
	return nil
}

func (s *Stream) closeWith(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = cause
	drained := s.next >= len(s.files)
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
	read, stop := s.read, s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case cause != nil:
		result = "cancelled"
	case !drained:
		result = "aborted"
	}
	s.metrics.StreamClosed(result, read)
}

// Copy writes the stream to w until it is drained, ctx is done or w fails,
// then closes the stream.
func (s *Stream) Copy(ctx context.Context, w io.Writer) (int64, error) {
	defer s.Close()
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			s.closeWith(err)
			return written, err
		}
		nr, rerr := s.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
