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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxInspectPages bounds text extraction during the pre-upload check.
const maxInspectPages = 20

type pdfInfo struct {
	Pages int
	// TextPages counts sampled pages that yielded any text.
	TextPages int
}

// inspectPDF opens a PDF and samples its pages. Non-PDF paths return nil, nil.
func inspectPDF(path string) (info *pdfInfo, err error) {
	if strings.ToLower(filepath.Ext(path)) != ".pdf" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(file, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	info = &pdfInfo{Pages: reader.NumPage()}
	for n := 1; n <= info.Pages && n <= maxInspectPages; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err == nil && strings.TrimSpace(text) != "" {
			info.TextPages++
		}
	}
	return info, nil
}
