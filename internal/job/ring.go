package job

// lineRing keeps the last n diagnostic lines of a process.
type lineRing struct {
	lines []string
	next  int
	full  bool
}

func newLineRing(n int) *lineRing {
	return &lineRing{lines: make([]string, n)}
}

func (r *lineRing) add(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the kept lines, oldest first.
func (r *lineRing) snapshot() []string {
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}
