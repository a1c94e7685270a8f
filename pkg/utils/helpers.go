package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// UserHomeDirPath returns ~/tftp, creating it when missing.
func UserHomeDirPath() (string, error) {
	p, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error while getting user home dir: %w", err)
	}

	tftpBaseDir := filepath.Join(p, "tftp")

	if err := os.MkdirAll(tftpBaseDir, 0o750); err != nil {
		return "", fmt.Errorf("error while creating tftp base dir: %w", err)
	}

	return tftpBaseDir, nil
}
