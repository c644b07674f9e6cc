// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from .env files.
//
// Search order (first found wins per key):
//  1. Explicit paths, in order
//  2. .env in current directory
//
// Existing environment variables are NOT overwritten.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if path != "" {
			if err := loadIfExists(path); err != nil {
				return err
			}
		}
	}
	return loadIfExists(".env")
}

// loadIfExists loads a .env file if it exists.
func loadIfExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		// .env is optional; a malformed one is reported but not fatal
		slog.Warn("Failed to load .env file", "path", path, "error", err)
		return nil
	}

	slog.Debug("Loaded environment from .env", "path", path)
	return nil
}

// PersistEnvKey sets key=value in the dotenv file at path, creating the file
// when it does not exist. Only the line assigning key is replaced (or a line
// is appended), so comments, ordering and other keys are kept as written.
func PersistEnvKey(path, key, value string) error {
	if path == "" {
		return errors.New("env file path is empty")
	}
	if key == "" {
		return errors.New("env key is empty")
	}

	line, err := godotenv.Marshal(map[string]string{key: value})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	replaced := false
	for i, l := range lines {
		if assignsKey(l, key) {
			if !replaced {
				lines[i] = line
				replaced = true
				continue
			}
			// A later duplicate would win on load; comment it out.
			lines[i] = "# " + l
		}
	}
	if !replaced {
		lines = append(lines, line)
	}

	out := strings.Join(lines, "\n") + "\n"
	if _, err := godotenv.Unmarshal(out); err != nil {
		return fmt.Errorf("refusing to write unparsable %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// assignsKey reports whether a dotenv line assigns key, with or without a
// leading "export".
func assignsKey(line, key string) bool {
	l := strings.TrimSpace(line)
	l = strings.TrimSpace(strings.TrimPrefix(l, "export "))
	i := strings.IndexAny(l, "=:")
	return i > 0 && strings.TrimSpace(l[:i]) == key
}
