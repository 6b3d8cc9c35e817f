package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// Verify validates the configuration. All problems are reported at once.
func Verify(cfg *ServerConfig) error {
	return errors.Join(
		verifyServer(&cfg.Server),
		verifyCache(&cfg.Cache),
		verifyBuild(&cfg.Build),
		verifyStorage(&cfg.Storage),
		verifyCatalog(&cfg.Catalog, &cfg.Sources.Secondary),
		verifySecurity(&cfg.Security),
		verifyLog(&cfg.Log),
	)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	if cfg.HTTP.RateLimit < 0 {
		return errors.New("server.http.rate_limit must not be negative")
	}
	return nil
}

func verifyCache(cfg *CacheSection) error {
	if cfg.Root == "" {
		return errors.New("cache.root is required")
	}
	if cfg.KeepVersions < 1 {
		return errors.New("cache.keep_versions must be at least 1")
	}
	return nil
}

func verifyBuild(cfg *BuildSection) error {
	if cfg.Workers < 1 {
		return errors.New("build.workers must be at least 1")
	}
	switch cfg.Checksum {
	case "", "crc32", "murmur3", "blake3":
	default:
		return fmt.Errorf("build.checksum: unknown algorithm %q", cfg.Checksum)
	}
	for class := range cfg.Filters {
		if !domain.ClassName(class).Valid() {
			return fmt.Errorf("build.filters: invalid class %q", class)
		}
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Engine {
	case "memory":
	case "badger":
		if cfg.DataDir == "" {
			return errors.New("storage.data_dir is required for the badger engine")
		}
	default:
		return fmt.Errorf("storage.engine: unknown engine %q", cfg.Engine)
	}
	return nil
}

func verifyCatalog(cfg *CatalogSection, secondary *SecondaryConfig) error {
	var errs []error
	check := func(field string, names []string) {
		for _, n := range names {
			if !domain.ClassName(n).Valid() {
				errs = append(errs, fmt.Errorf("%s: invalid class %q", field, n))
			}
		}
	}
	check("catalog.classes", cfg.Classes)
	check("catalog.common", cfg.Common)
	check("catalog.by_branch", cfg.ByBranch)
	check("catalog.excluded", cfg.Excluded)
	check("sources.secondary.classes", secondary.Classes)

	for _, n := range cfg.Common {
		if slices.Contains(cfg.ByBranch, n) {
			errs = append(errs, fmt.Errorf("catalog: %s is both common and by_branch", n))
		}
	}
	for class, tier := range cfg.Classification {
		if !domain.ClassName(class).Valid() {
			errs = append(errs, fmt.Errorf("catalog.classification: invalid class %q", class))
		}
		if _, ok := domain.ParseTier(tier); !ok {
			errs = append(errs, fmt.Errorf("catalog.classification: %s: unknown tier %q", class, tier))
		}
	}
	return errors.Join(errs...)
}

func verifySecurity(cfg *SecuritySection) error {
	switch cfg.BranchAccess {
	case "permissive", "enforce":
	default:
		return fmt.Errorf("security.branch_access: unknown policy %q", cfg.BranchAccess)
	}
	for i, tok := range cfg.Tokens {
		if tok.User == "" {
			return fmt.Errorf("security.tokens[%d]: user is required", i)
		}
		if !isSHA256Hex(tok.Hash) {
			return fmt.Errorf("security.tokens[%d]: hash must be a hex sha256", i)
		}
	}
	for _, entry := range cfg.AdminAllowList {
		if !validACLEntry(entry) {
			return fmt.Errorf("security.admin_allow_list: invalid entry %q", entry)
		}
	}
	if cfg.RebuildPerMinute < 0 {
		return errors.New("security.rebuild_per_minute must not be negative")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	switch cfg.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

func validACLEntry(entry string) bool {
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}
