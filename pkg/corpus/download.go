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

package corpus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// download fetches rawURL into a temporary file. The cleanup func removes it.
func (p *Provisioner) download(ctx context.Context, rawURL string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, err
	}

	resp, err := p.downloader.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return "", nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	f, err := os.CreateTemp(p.tempDir, "helpdesk-*"+filepath.Ext(sourceBaseName(rawURL)))
	if err != nil {
		return "", nil, fmt.Errorf("download: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("download: %w", err)
	}

	p.logger.Info("Downloaded document", "url", rawURL, "path", f.Name(), "bytes", n)
	return f.Name(), cleanup, nil
}

// sourceBaseName returns the file name of a local path or URL.
func sourceBaseName(source string) string {
	if isURL(source) {
		if u, err := url.Parse(source); err == nil {
			if base := path.Base(u.Path); base != "/" && base != "." {
				return base
			}
			return u.Host
		}
	}
	return filepath.Base(strings.ReplaceAll(source, `\`, "/"))
}
