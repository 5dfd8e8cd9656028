package monitor

import (
	"fmt"
	"sort"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	gops "github.com/shirou/gopsutil/v3/process"
)

// Usage is a point-in-time resource sample for a running task,
// aggregated over the task's process tree. Tasks run through a shell,
// so the interesting process is usually a child of the task's PID.
type Usage struct {
	// PID is the task's root process ID.
	PID int

	// CPUPercent is the tree's combined CPU usage.
	CPUPercent float64

	// MemoryRSS is the tree's combined resident set size in bytes.
	MemoryRSS uint64

	// Ports are the TCP ports the tree is listening on, ascending.
	Ports []uint32
}

// maxTreeDepth bounds the process-tree walk for usage sampling.
const maxTreeDepth = 4

// Usage samples CPU, memory, and listening ports for the task's
// process tree. Sampling is best effort: processes that vanish
// mid-walk are skipped.
func (m *Monitor) Usage(id string) (Usage, error) {
	t, err := m.Get(id)
	if err != nil {
		return Usage{}, err
	}

	pid := t.PID()
	if pid <= 0 {
		return Usage{}, fmt.Errorf("task %q: %w", t.Name, ErrTaskNotRunning)
	}

	u := Usage{PID: pid}
	root, err := gops.NewProcess(int32(pid))
	if err != nil {
		return u, nil
	}

	seen := make(map[uint32]struct{})
	for _, p := range processTree(root, maxTreeDepth) {
		if cpu, err := p.CPUPercent(); err == nil {
			u.CPUPercent += cpu
		}
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			u.MemoryRSS += mi.RSS
		}
		conns, err := gopsnet.ConnectionsPid("tcp", p.Pid)
		if err != nil {
			continue
		}
		for _, c := range conns {
			if c.Status != "LISTEN" {
				continue
			}
			if _, dup := seen[c.Laddr.Port]; dup {
				continue
			}
			seen[c.Laddr.Port] = struct{}{}
			u.Ports = append(u.Ports, c.Laddr.Port)
		}
	}

	sort.Slice(u.Ports, func(i, j int) bool { return u.Ports[i] < u.Ports[j] })
	return u, nil
}

// processTree returns the process and its descendants, breadth-first,
// at most depth levels deep.
func processTree(root *gops.Process, depth int) []*gops.Process {
	out := []*gops.Process{root}
	frontier := []*gops.Process{root}
	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []*gops.Process
		for _, p := range frontier {
			children, err := p.Children()
			if err != nil {
				continue
			}
			next = append(next, children...)
		}
		out = append(out, next...)
		frontier = next
	}
	return out
}
