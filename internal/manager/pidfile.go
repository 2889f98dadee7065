package manager

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// pidMeta rides along in the PID file so a recycled PID can be told apart
// from the process we actually started.
type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// writePIDFile writes "PID\n{json meta}\n" atomically.
func writePIDFile(path string, pid int, startUnix int64) error {
	meta, err := json.Marshal(pidMeta{StartUnix: startUnix})
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return renameio.WriteFile(path, []byte(content), 0o600)
}

// readPIDFile parses a PID file. Files holding only a PID (no meta line)
// read back with a zero StartUnix, which disables the reuse guard.
func readPIDFile(path string) (int, pidMeta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, pidMeta{}, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, pidMeta{}, err
	}
	var meta pidMeta
	rest = strings.TrimSpace(rest)
	if rest != "" {
		// Unparseable meta is ignored; the PID alone is still useful.
		_ = json.Unmarshal([]byte(rest), &meta)
	}
	return pid, meta, nil
}
