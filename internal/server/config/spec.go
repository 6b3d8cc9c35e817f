package config

import "time"

// ServerConfig is the root configuration for mdm-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Cache    CacheSection    `koanf:"cache"`
	Build    BuildSection    `koanf:"build"`
	Storage  StorageSection  `koanf:"storage"`
	Sources  SourcesSection  `koanf:"sources"`
	Catalog  CatalogSection  `koanf:"catalog"`
	Security SecuritySection `koanf:"security"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	// IdleTimeout bounds keep-alive connections. Write timeouts are not
	// set since rebuild and fetch responses stream for as long as needed.
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSOrigins lists the origins allowed to call the API. "*" allows any.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimit is the per client IP request rate, in requests per second.
	// 0 disables it.
	RateLimit float64 `koanf:"rate_limit"`
}

// CacheSection configures the partition cache.
type CacheSection struct {
	Root         string `koanf:"root"`
	KeepVersions int    `koanf:"keep_versions"`
}

// BuildSection configures snapshot builds.
type BuildSection struct {
	// Workers is the number of classes of one tier built concurrently.
	Workers int `koanf:"workers"`
	// Checksum is the manifest checksum: crc32, murmur3 or blake3.
	Checksum string `koanf:"checksum"`
	// Filters are per-class inclusion expressions, ANDed with the
	// built-in branch rules.
	Filters map[string]string `koanf:"filters"`
	// Job holds parameters exposed to filters as "job".
	Job map[string]any `koanf:"job"`
}

// StorageSection configures the document store.
type StorageSection struct {
	// Engine is "badger" or "memory".
	Engine     string        `koanf:"engine"`
	DataDir    string        `koanf:"data_dir"`
	GCInterval time.Duration `koanf:"gc_interval"`
	SyncWrites bool          `koanf:"sync_writes"`
}

// SourcesSection configures record sources outside the document store.
type SourcesSection struct {
	Secondary SecondaryConfig `koanf:"secondary"`
}

// SecondaryConfig configures the secondary collection feeding derived
// classes. Without a URL the collection is read from the local store.
type SecondaryConfig struct {
	URL        string        `koanf:"url"`
	Collection string        `koanf:"collection"`
	User       string        `koanf:"user"`
	Password   string        `koanf:"password"`
	Timeout    time.Duration `koanf:"timeout"`
	// Classes are the derived classes read from the collection.
	Classes []string `koanf:"classes"`
}

// CatalogSection configures class registration and partitioning.
type CatalogSection struct {
	// Classes are registered as store-backed classes. Empty means the
	// built-in registry.
	Classes  []string `koanf:"classes"`
	Common   []string `koanf:"common"`
	ByBranch []string `koanf:"by_branch"`
	// Classification maps a class to a tier name and overrides the
	// built-in table.
	Classification map[string]string `koanf:"classification"`
	Excluded       []string          `koanf:"excluded"`
}

// SecuritySection configures access control.
type SecuritySection struct {
	// BranchAccess is "permissive" or "enforce".
	BranchAccess string        `koanf:"branch_access"`
	Tokens       []TokenConfig `koanf:"tokens"`
	// AdminUsers may feed records. Empty means any authenticated user.
	AdminUsers []string `koanf:"admin_users"`
	// AdminAllowList restricts admin routes to these IPs or CIDR blocks.
	AdminAllowList []string `koanf:"admin_allow_list"`
	// RebuildPerMinute limits rebuilds per partition. 0 disables it.
	RebuildPerMinute float64 `koanf:"rebuild_per_minute"`
	RebuildBurst     int     `koanf:"rebuild_burst"`
}

// TokenConfig binds a bearer token hash to a user.
type TokenConfig struct {
	User   string `koanf:"user"`
	Hash   string `koanf:"hash"`
	Suffix string `koanf:"suffix"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
