// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secrets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MaxFileSize is the default limit on secret file size (64KB).
const MaxFileSize = 64 * 1024

// FileProviderConfig controls which files may be read.
type FileProviderConfig struct {
	// MaxSize is the maximum file size in bytes.
	// Default: 64KB
	MaxSize int64

	// AllowGroupReadable accepts files readable by group or others.
	// Default: false
	AllowGroupReadable bool
}

// FileProvider resolves file:/absolute/path references. The file content
// is returned unmodified.
type FileProvider struct {
	config FileProviderConfig
}

// NewFileProvider creates a file provider.
func NewFileProvider(config FileProviderConfig) *FileProvider {
	if config.MaxSize == 0 {
		config.MaxSize = MaxFileSize
	}
	return &FileProvider{config: config}
}

// Scheme implements Provider.
func (f *FileProvider) Scheme() string {
	return "file"
}

// Resolve reads the file at path. The path must be absolute and name a
// regular file within the size limit that only its owner can read.
func (f *FileProvider) Resolve(_ context.Context, path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", newResolutionError(ErrorCategoryInvalidSyntax, "file", path, "path must be absolute", nil)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", newResolutionError(ErrorCategoryNotFound, "file", path, "file does not exist", err)
		}
		return "", newResolutionError(ErrorCategoryAccessDenied, "file", path, "file cannot be opened", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", newResolutionError(ErrorCategoryAccessDenied, "file", path, "file cannot be inspected", err)
	}
	if !info.Mode().IsRegular() {
		return "", newResolutionError(ErrorCategoryInvalidSyntax, "file", path, "not a regular file", nil)
	}
	if !f.config.AllowGroupReadable && info.Mode().Perm()&0o077 != 0 {
		return "", newResolutionError(ErrorCategoryAccessDenied, "file", path,
			fmt.Sprintf("permissions %04o are too open, expected owner-only", info.Mode().Perm()), nil)
	}
	if info.Size() > f.config.MaxSize {
		return "", newResolutionError(ErrorCategoryInvalidSyntax, "file", path,
			fmt.Sprintf("file exceeds %d bytes", f.config.MaxSize), nil)
	}

	data, err := io.ReadAll(io.LimitReader(file, f.config.MaxSize+1))
	if err != nil {
		return "", newResolutionError(ErrorCategoryAccessDenied, "file", path, "file cannot be read", err)
	}
	return string(data), nil
}
