// Package vosclient wraps the distributed filesystem's administrative CLI
// (spec §1's "vos-like" tool), exposing only the dump/restore/release/
// examine/site operations the stage workers invoke. Grounded on the
// teacher's exec.Command shell-out idiom in internal/engine/git.go: build
// the argv, run with a working directory when one matters, and fold
// CombinedOutput into the returned error on failure.
package vosclient

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SiteType is a replication site's role, per spec §4.3 "Delete"'s
// RO → BK → RW removal ordering.
type SiteType string

const (
	SiteRW SiteType = "RW"
	SiteRO SiteType = "RO"
	SiteBK SiteType = "BK"
)

// Site describes one replication site of a volume, as reported by Examine.
type Site struct {
	Server    string
	Partition string
	Type      SiteType
	Stale     bool
	Locked    bool
}

// VolumeInfo is the result of Examine.
type VolumeInfo struct {
	Name       string
	LastUpdate int64
	Sites      []Site
}

// Client shells out to the administrative CLI named by BinPath (defaults to
// "vos" when empty).
type Client struct {
	BinPath string
}

// New returns a Client using binPath, or "vos" if binPath is empty.
func New(binPath string) *Client {
	if binPath == "" {
		binPath = "vos"
	}
	return &Client{BinPath: binPath}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.BinPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("vosclient: %s %s: %s", c.BinPath, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Dump invokes the dump operation, writing volume's contents to destFile.
// A non-zero sinceUpdate requests an incremental dump relative to that
// baseline timestamp.
func (c *Client) Dump(ctx context.Context, volume, destFile string, sinceUpdate int64) error {
	args := []string{"dump", volume, "-file", destFile}
	if sinceUpdate > 0 {
		args = append(args, "-time", strconv.FormatInt(sinceUpdate, 10))
	}
	_, err := c.run(ctx, args...)
	return err
}

// Restore invokes the restore operation, loading dumpFile into volume at
// server/partition. baseline, if non-zero, is passed through as the
// incremental baseline used by the previous Dump.
func (c *Client) Restore(ctx context.Context, server, partition, volume, dumpFile string, baseline int64) error {
	args := []string{"restore", "-server", server, "-partition", partition, "-name", volume, "-file", dumpFile}
	if baseline > 0 {
		args = append(args, "-time", strconv.FormatInt(baseline, 10))
	}
	_, err := c.run(ctx, args...)
	return err
}

// Release invokes the release operation with the per-queue flag map from
// restore/queues/*/release/flags configuration.
func (c *Client) Release(ctx context.Context, volume string, flags map[string]string) error {
	args := []string{"release", volume}
	for k, v := range flags {
		args = append(args, k, v)
	}
	_, err := c.run(ctx, args...)
	return err
}

// Examine returns volume's current sites and incremental baseline
// timestamp, parsed from the administrative CLI's listvldb-style output.
// Lines are of the form "server partition TYPE [Stale] [Locked]".
func (c *Client) Examine(ctx context.Context, volume string) (*VolumeInfo, error) {
	out, err := c.run(ctx, "examine", volume)
	if err != nil {
		return nil, err
	}
	return parseExamine(volume, out)
}

func parseExamine(volume, out string) (*VolumeInfo, error) {
	info := &VolumeInfo{Name: volume}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "LastUpdate ") {
			ts, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "LastUpdate ")), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("vosclient: examine %s: malformed LastUpdate line %q", volume, line)
			}
			info.LastUpdate = ts
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		site := Site{Server: fields[0], Partition: fields[1], Type: SiteType(fields[2])}
		for _, flag := range fields[3:] {
			switch flag {
			case "Stale":
				site.Stale = true
			case "Locked":
				site.Locked = true
			}
		}
		info.Sites = append(info.Sites, site)
	}
	return info, nil
}

// CreateVolume creates a new RW volume at server/partition with the given
// quota in kilobytes, per spec §4.3 "Restore"'s "minimal quota" creation.
func (c *Client) CreateVolume(ctx context.Context, server, partition, name string, quotaKB int64) error {
	_, err := c.run(ctx, "create", server, partition, name, "-maxquota", strconv.FormatInt(quotaKB, 10))
	return err
}

// AddSite registers server/partition as an additional read-only replica of
// volume, without releasing it.
func (c *Client) AddSite(ctx context.Context, server, partition, volume string) error {
	_, err := c.run(ctx, "addsite", server, partition, volume)
	return err
}

// SetOffline marks the RW instance of volume offline, per spec §4.3
// "Restore"'s "take it offline" step between creation and the actual
// restore.
func (c *Client) SetOffline(ctx context.Context, volume string) error {
	_, err := c.run(ctx, "offline", volume)
	return err
}

// RemoveSite removes server/partition as a site of volume. Missing volume
// is not an error, per spec §4.3 "Delete".
func (c *Client) RemoveSite(ctx context.Context, server, partition, volume string) error {
	out, err := c.run(ctx, "remsite", server, partition, volume)
	if err != nil && strings.Contains(out, "does not exist") {
		return nil
	}
	if err != nil && strings.Contains(err.Error(), "does not exist") {
		return nil
	}
	return err
}

// DeleteOrder lists site types in the removal order spec §4.3 "Delete"
// requires: replicas before the authoritative RW copy.
var DeleteOrder = []SiteType{SiteRO, SiteBK, SiteRW}
