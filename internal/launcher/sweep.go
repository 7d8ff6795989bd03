package launcher

import (
	"errors"
	"path/filepath"
	"strings"

	psprocess "github.com/shirou/gopsutil/v4/process"
)

// Sweep kills processes named like one of names that belong to this job:
// descendants recorded at Terminate, current descendants, and orphans created
// after the job started. Unrelated instances of the same tools are left alone.
func (p *process) Sweep(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[normalizeName(n)] = true
	}

	p.mu.Lock()
	owned := appendUnique(append([]int32(nil), p.descendants...), descendantsOf(int32(p.PID()))...)
	p.mu.Unlock()
	ownedSet := make(map[int32]bool, len(owned))
	for _, pid := range owned {
		ownedSet[pid] = true
	}

	procs, err := psprocess.Processes()
	if err != nil {
		return err
	}
	startedMs := p.startedAt.UnixMilli()
	var errs []error
	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil || !wanted[normalizeName(name)] {
			continue
		}
		if !ownedSet[proc.Pid] && !isOrphanSince(proc, startedMs) {
			continue
		}
		if err := proc.Kill(); err != nil {
			errs = append(errs, err)
			continue
		}
		p.logger.Info("swept leftover process", "pid", proc.Pid, "name", name)
	}
	return errors.Join(errs...)
}

func isOrphanSince(proc *psprocess.Process, startedMs int64) bool {
	created, err := proc.CreateTime()
	if err != nil || created < startedMs {
		return false
	}
	ppid, err := proc.Ppid()
	if err != nil {
		return false
	}
	if ppid <= 1 {
		return true
	}
	exists, err := psprocess.PidExists(ppid)
	return err == nil && !exists
}

// descendantsOf lists every process below pid.
func descendantsOf(pid int32) []int32 {
	if pid <= 0 {
		return nil
	}
	root, err := psprocess.NewProcess(pid)
	if err != nil {
		return nil
	}
	var out []int32
	queue := []*psprocess.Process{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := cur.Children()
		if err != nil {
			continue
		}
		for _, c := range children {
			out = append(out, c.Pid)
			queue = append(queue, c)
		}
	}
	return out
}

func appendUnique(dst []int32, pids ...int32) []int32 {
	seen := make(map[int32]bool, len(dst))
	for _, pid := range dst {
		seen[pid] = true
	}
	for _, pid := range pids {
		if !seen[pid] {
			seen[pid] = true
			dst = append(dst, pid)
		}
	}
	return dst
}

func normalizeName(name string) string {
	name = strings.ToLower(filepath.Base(name))
	return strings.TrimSuffix(name, ".exe")
}
