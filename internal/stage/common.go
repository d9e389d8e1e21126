// Package stage implements the five pipeline stage workers (dump,
// transfer, restore, release, delete) of spec §4.3, each claiming jobs in
// its input state via jobstore.FindAndAdvance and driving its external
// operation under the child supervisor.
package stage

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"context"

	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/vosclient"
)

// VosOps is the subset of *vosclient.Client each stage worker depends on.
// Expressed as an interface so tests can substitute a fake administrative
// CLI instead of shelling out to a real one.
type VosOps interface {
	Dump(ctx context.Context, volume, destFile string, sinceUpdate int64) error
	Restore(ctx context.Context, server, partition, volume, dumpFile string, baseline int64) error
	Release(ctx context.Context, volume string, flags map[string]string) error
	Examine(ctx context.Context, volume string) (*vosclient.VolumeInfo, error)
	CreateVolume(ctx context.Context, server, partition, name string, quotaKB int64) error
	AddSite(ctx context.Context, server, partition, volume string) error
	SetOffline(ctx context.Context, volume string) error
	RemoveSite(ctx context.Context, server, partition, volume string) error
}

// newHash returns the hash.Hash implementation named by algo ("sha256",
// "sha1", "sha512"), defaulting to sha256.
func newHash(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "", "sha256":
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("stage: unsupported checksum algorithm %q", algo)
	}
}

// checksumFile computes algo's digest of path, formatted "ALGO:hex" per
// spec §3's dump_checksum column format.
func checksumFile(path, algo string) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("stage: checksum: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("stage: checksum: %w", err)
	}
	return formatChecksum(algo, h.Sum(nil)), nil
}

func formatChecksum(algo string, sum []byte) string {
	if algo == "" {
		algo = "sha256"
	}
	return fmt.Sprintf("%s:%x", strings.ToLower(algo), sum)
}

// splitChecksum parses an "ALGO:hex" checksum string back into its
// algorithm and hex digest, per spec §4.3 "Transfer"'s "checksum matches
// ... using the algorithm prefix" verification.
func splitChecksum(checksum string) (algo, hexDigest string, err error) {
	parts := strings.SplitN(checksum, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("stage: malformed checksum %q, want ALGO:hex", checksum)
	}
	return parts[0], parts[1], nil
}

// verifyChecksum reports whether path's algo-digest matches checksum's
// "ALGO:hex" value.
func verifyChecksum(path, checksum string) (bool, error) {
	algo, hexDigest, err := splitChecksum(checksum)
	if err != nil {
		return false, err
	}
	got, err := checksumFile(path, algo)
	if err != nil {
		return false, err
	}
	_, gotHex, _ := splitChecksum(got)
	return strings.EqualFold(gotHex, hexDigest), nil
}

// uniqueScratchPath returns a scratch-directory path for volname with a
// random suffix, per spec §5's "filenames are generated with a unique
// random suffix per job so no locking is required" shared-resource policy.
func uniqueScratchPath(scratchDir, volname, suffix string) string {
	return filepath.Join(scratchDir, fmt.Sprintf("%s.%d.%s", volname, rand.Int63(), suffix))
}

// scratchFree reports the bytes of free space available in dir.
func scratchFree(dir string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("stage: statfs %s: %w", dir, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// checkScratchRoom reports whether dir has at least needed+slack bytes
// free.
func checkScratchRoom(dir string, needed, slack int64) (bool, error) {
	free, err := scratchFree(dir)
	if err != nil {
		return false, err
	}
	return free >= needed+slack, nil
}

// rollbackToPreWork reverts ctx's job from a *_WORK state back to its
// corresponding *_START state and nulls timeout, per spec §4.3's scratch
// rollback rule: "reuses the pre-WORK state and nulls the timeout so the
// check engine does not treat it as expired while waiting" and does not
// increment errors.
func rollbackToPreWork(store *jobstore.Store, ctx *jobstore.UpdateCtx, startState, description string) error {
	mutations := map[string]interface{}{
		"state":       startState,
		"timeout":     nil,
		"description": description,
	}
	return store.UpdateJob(ctx, mutations, "")
}

// defaultScratchSlack is used when configuration leaves scratch-slack-bytes
// at its zero value.
const defaultScratchSlack = 64 * 1024 * 1024

// fileSize returns path's size in bytes.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stage: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// baseName returns path's final element, the form dump_filename and
// restore_filename are stored in (bare names, resolved against each host's
// own scratch directory).
func baseName(path string) string {
	return filepath.Base(path)
}

// progressDeadline computes the timeout (seconds, rounded up) a supervisor
// progress-callback tick should extend the job to, covering interval plus
// a fixed slack so a slow tick doesn't race the check engine's expiry
// check.
func progressDeadline(interval time.Duration) uint {
	seconds := int64(math.Ceil(interval.Seconds())) + 30
	if seconds < 1 {
		seconds = 1
	}
	return uint(seconds)
}
