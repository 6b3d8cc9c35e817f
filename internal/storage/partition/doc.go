// Package partition manages the on-disk snapshot cache.
//
// Every partition directory is published as a symlink to an immutable
// version directory:
//
//	{root}/{zone}/{dir}                      -> .versions/{dir}/{version}
//	{root}/{zone}/.versions/{dir}/{version}/{class}.json
//	{root}/{zone}/.versions/{dir}/{version}/manifest.json
//
// A build stages a fresh version, seeded from the current one, and swaps the
// symlink on commit. Readers resolve the symlink once and keep reading the
// version they resolved, so they never observe a half-written partition.
// Superseded versions are pruned beyond the configured retention.
package partition
