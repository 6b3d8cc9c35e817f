package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr          = "127.0.0.1:5080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 2 * time.Minute
	DefaultShutdownTimeout   = 30 * time.Second

	DefaultCacheRoot    = "/var/lib/mdm-server/cache"
	DefaultKeepVersions = 2

	DefaultWorkers  = 4
	DefaultChecksum = "crc32"

	DefaultEngine     = "badger"
	DefaultDataDir    = "/var/lib/mdm-server/data"
	DefaultGCInterval = 10 * time.Minute

	DefaultCollection       = "ram"
	DefaultSecondaryTimeout = 30 * time.Second

	DefaultBranchAccess = "permissive"
	DefaultRebuildBurst = 1

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// DefaultSecondaryClasses are derived from the secondary collection.
var DefaultSecondaryClasses = []string{"cch.predefined_elmnts"}

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:              DefaultHTTPAddr,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				IdleTimeout:       DefaultIdleTimeout,
				ShutdownTimeout:   DefaultShutdownTimeout,
			},
		},
		Cache: CacheSection{
			Root:         DefaultCacheRoot,
			KeepVersions: DefaultKeepVersions,
		},
		Build: BuildSection{
			Workers:  DefaultWorkers,
			Checksum: DefaultChecksum,
		},
		Storage: StorageSection{
			Engine:     DefaultEngine,
			DataDir:    DefaultDataDir,
			GCInterval: DefaultGCInterval,
		},
		Sources: SourcesSection{
			Secondary: SecondaryConfig{
				Collection: DefaultCollection,
				Timeout:    DefaultSecondaryTimeout,
				Classes:    append([]string(nil), DefaultSecondaryClasses...),
			},
		},
		Security: SecuritySection{
			BranchAccess: DefaultBranchAccess,
			RebuildBurst: DefaultRebuildBurst,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
