package project

import (
	"bytes"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/openmined/vcsws/internal/utils"
)

const sessionVersion = 1

// Session is the durable part of a project's state, restored on the next start.
type Session struct {
	Version      int    `json:"version"`
	ProjectRoot  string `json:"project_root"`
	Branch       string `json:"branch"`
	ManifestPath string `json:"manifest_path"`
}

func writeSession(tmpDir, path string, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if _, err := utils.WriteFileAtomic(tmpDir, path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("session write: %w", err)
	}
	return nil
}

// readSession returns nil without error when no session was saved yet.
func readSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session decode '%s': %w", path, err)
	}
	if s.Version != sessionVersion {
		return nil, fmt.Errorf("session '%s': unsupported version %d", path, s.Version)
	}
	return &s, nil
}
