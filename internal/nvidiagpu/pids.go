package nvidiagpu

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// descendantPIDs collects pid and every descendant process id by
// walking the per-task children lists under procRoot. A visited set
// tolerates cycles; unreadable entries are skipped, so on systems
// without a proc filesystem the result is just the pid itself and
// attribution degrades to "not in use".
func descendantPIDs(procRoot string, pid int32) []int32 {
	pids := []int32{pid}
	visited := make(map[int32]struct{})
	stack := []int32{pid}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[p]; ok {
			continue
		}
		visited[p] = struct{}{}

		ps := strconv.Itoa(int(p))
		data, err := os.ReadFile(filepath.Join(procRoot, ps, "task", ps, "children"))
		if err != nil {
			continue
		}
		for _, field := range strings.Fields(string(data)) {
			child, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				continue
			}
			stack = append(stack, int32(child))
			pids = append(pids, int32(child))
		}
	}
	return pids
}
