//go:build linux

package resource

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// hostMemory prefers MemAvailable from /proc/meminfo, which counts
// reclaimable page cache, and falls back to sysinfo's free RAM.
func hostMemory() (int64, float64) {
	var info unix.Sysinfo_t
	load := 0.0
	sysOK := unix.Sysinfo(&info) == nil
	if sysOK {
		load = float64(info.Loads[0]) / 65536.0
	}

	if mb, ok := memAvailableMB("/proc/meminfo"); ok {
		return mb, load
	}
	if sysOK {
		return int64(uint64(info.Freeram) * uint64(info.Unit) / (1 << 20)), load
	}
	return Unknown, load
}

func memAvailableMB(path string) (int64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	return parseMemAvailable(bufio.NewScanner(f))
}

func parseMemAvailable(scanner *bufio.Scanner) (int64, bool) {
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb / 1024, true
	}
	return 0, false
}
