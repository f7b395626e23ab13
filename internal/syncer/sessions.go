package syncer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// SessionFile is one transcript on disk.
type SessionFile struct {
	Agent   string
	ID      string
	Path    string
	ModTime time.Time
}

// ListSessionFiles returns the transcripts under agentsDir modified at or
// after since: every <agent>/sessions/*.jsonl whose agent name does not
// start with a dot and whose file name does not contain ".deleted.".
// Results are ordered by agent, then file name. A missing agentsDir or
// sessions directory contributes no files.
func ListSessionFiles(agentsDir string, since time.Time) ([]SessionFile, error) {
	agents, err := os.ReadDir(agentsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading agents directory: %w", err)
	}

	var files []SessionFile
	for _, agent := range agents {
		name := agent.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		dir := SessionsDir(agentsDir, name)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", dir, err)
		}

		for _, entry := range entries {
			fname := entry.Name()
			if !strings.HasSuffix(fname, ".jsonl") || strings.Contains(fname, ".deleted.") {
				continue
			}
			path := filepath.Join(dir, fname)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			if info.ModTime().Before(since) {
				continue
			}
			files = append(files, SessionFile{
				Agent:   name,
				ID:      strings.TrimSuffix(fname, ".jsonl"),
				Path:    path,
				ModTime: info.ModTime(),
			})
		}
	}
	return files, nil
}

// SessionsDir is where an agent's transcripts live.
func SessionsDir(agentsDir, agent string) string {
	return filepath.Join(agentsDir, agent, "sessions")
}
