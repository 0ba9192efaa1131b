package idle

import (
	"bufio"
	"io"
	"strings"
)

// tracerAttached scans a proc status document for a non-zero TracerPid.
func tracerAttached(r io.Reader) bool {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if pid, ok := strings.CutPrefix(sc.Text(), "TracerPid:"); ok {
			pid = strings.TrimSpace(pid)
			return pid != "" && pid != "0"
		}
	}
	return false
}
