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

package ragengine

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

// CloudPlatformScope is the OAuth scope required by the RAG Engine API.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// NewAuthenticatedHTTPClient returns an HTTP client that signs requests.
// A non-empty accessToken is used as-is; otherwise Application Default
// Credentials are resolved.
func NewAuthenticatedHTTPClient(ctx context.Context, accessToken string) (*http.Client, error) {
	opts := []option.ClientOption{option.WithScopes(CloudPlatformScope)}
	if accessToken != "" {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		})))
	}

	hc, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google credentials: %w", err)
	}
	return hc, nil
}
