// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenFile reads a bearer token from a file on every request, so a
// credential rotated on disk takes effect without a restart.
type TokenFile struct {
	Path string
}

// Token returns the trimmed file content.
func (t TokenFile) Token(ctx context.Context) (string, error) {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errors.New("token file is empty")
	}
	return token, nil
}
