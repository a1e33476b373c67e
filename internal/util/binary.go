// Package util holds small helpers shared by the encoder packages.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// FindBinary locates an executable named name. Candidates are tried in order:
//
//  1. each configured path (a bare name is looked up on PATH)
//  2. the value of envVar, when set
//  3. ./name
//  4. name on PATH
//
// Candidates that do not exist or lack an executable bit are skipped.
func FindBinary(name, envVar string, configured ...string) (string, error) {
	for _, c := range configured {
		if c == "" {
			continue
		}
		if !strings.ContainsRune(c, os.PathSeparator) {
			if path, err := exec.LookPath(c); err == nil {
				return path, nil
			}
			continue
		}
		if isExecutable(c) {
			return c, nil
		}
	}

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}

	localPath := "./" + name
	if isExecutable(localPath) {
		return localPath, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
