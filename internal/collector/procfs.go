package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// TCP state code for ESTABLISHED in /proc/net/tcp
const tcpEstablished = 0x01

type cpuSample struct {
	seconds float64
	at      time.Time
}

type socketOwner struct {
	pid  int
	name string
}

// ProcfsSource reads processes and TCP sockets from /proc.
// It implements both ProcessSource and ConnectionSource.
type ProcfsSource struct {
	fs procfs.FS

	mu      sync.Mutex
	lastCPU map[int]cpuSample
	users   map[uint64]string
}

func NewProcfsSource(mountPoint string) (*ProcfsSource, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	pfs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", mountPoint, err)
	}
	return &ProcfsSource{
		fs:      pfs,
		lastCPU: make(map[int]cpuSample),
		users:   make(map[uint64]string),
	}, nil
}

// Processes lists running processes. CPU percent is measured between two
// consecutive calls, so every process reads 0 on its first observation.
func (s *ProcfsSource) Processes(ctx context.Context) ([]ProcessInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, classifyErr("list processes", err)
	}

	var memTotal uint64
	if mi, err := s.fs.Meminfo(); err == nil && mi.MemTotal != nil {
		memTotal = *mi.MemTotal * 1024
	}

	now := time.Now()
	next := make(map[int]cpuSample, len(procs))
	out := make([]ProcessInfo, 0, len(procs))

	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Processes can exit between listing and reading
		stat, err := p.Stat()
		if err != nil {
			continue
		}

		info := ProcessInfo{PID: p.PID, Name: stat.Comm}

		cpu := stat.CPUTime()
		if prev, ok := s.lastCPU[p.PID]; ok {
			if elapsed := now.Sub(prev.at).Seconds(); elapsed > 0 && cpu >= prev.seconds {
				info.CPUPercent = (cpu - prev.seconds) / elapsed * 100
			}
		}
		next[p.PID] = cpuSample{seconds: cpu, at: now}

		if memTotal > 0 {
			info.MemoryPercent = float64(stat.ResidentMemory()) / float64(memTotal) * 100
		}

		if status, err := p.NewStatus(); err == nil {
			info.Username = s.username(status.UIDs[0])
		}

		out = append(out, info)
	}

	s.lastCPU = next
	return out, nil
}

// Connections lists established TCP sockets (IPv4 and IPv6) that have a remote endpoint
func (s *ProcfsSource) Connections(ctx context.Context) ([]ConnectionInfo, error) {
	lines, err := s.fs.NetTCP()
	if err != nil {
		return nil, classifyErr("read /proc/net/tcp", err)
	}
	if v6, err := s.fs.NetTCP6(); err == nil {
		lines = append(lines, v6...)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, classifyErr("read /proc/net/tcp6", err)
	}

	owners, err := s.socketOwners(ctx)
	if err != nil {
		return nil, err
	}

	var out []ConnectionInfo
	for _, line := range lines {
		if line.St != tcpEstablished || line.RemPort == 0 || line.RemAddr == nil || line.RemAddr.IsUnspecified() {
			continue
		}
		conn := ConnectionInfo{
			LocalIP:    line.LocalAddr.String(),
			LocalPort:  int(line.LocalPort),
			RemoteIP:   line.RemAddr.String(),
			RemotePort: int(line.RemPort),
			Status:     "ESTABLISHED",
		}
		if owner, ok := owners[line.Inode]; ok {
			conn.PID = owner.pid
			conn.ProcessName = owner.name
		}
		out = append(out, conn)
	}
	return out, nil
}

// socketOwners maps socket inodes to the process holding them. File descriptors
// of processes we may not inspect are skipped; their sockets stay unattributed.
func (s *ProcfsSource) socketOwners(ctx context.Context) (map[uint64]socketOwner, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, classifyErr("list processes", err)
	}

	owners := make(map[uint64]socketOwner)
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		var name string
		for _, t := range targets {
			if !strings.HasPrefix(t, "socket:[") {
				continue
			}
			inode, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(t, "socket:["), "]"), 10, 64)
			if err != nil {
				continue
			}
			if name == "" {
				name, _ = p.Comm()
			}
			owners[inode] = socketOwner{pid: p.PID, name: name}
		}
	}
	return owners, nil
}

func (s *ProcfsSource) username(uid uint64) string {
	if name, ok := s.users[uid]; ok {
		return name
	}
	name := strconv.FormatUint(uid, 10)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}
	s.users[uid] = name
	return name
}

func classifyErr(op string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", ErrAccessDenied, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
