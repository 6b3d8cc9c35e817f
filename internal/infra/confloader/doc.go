// Package confloader loads configuration with koanf.
//
// Sources, highest priority first:
//
//  1. Explicit maps (flags, tests)
//  2. Environment variables
//  3. The YAML configuration file
//  4. Values already present in the target struct
//
// Environment variables use a double underscore between levels so that
// keys containing underscores survive: MDM_STORAGE__DATA_DIR sets
// storage.data_dir.
//
// Watcher reports changes of watched files so a running server can
// reload the parts of its configuration that are safe to change live.
package confloader
