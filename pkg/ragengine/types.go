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
	"encoding/json"
	"strconv"
	"time"
)

// Corpus is a RAG corpus: a named remote collection of documents prepared
// for semantic retrieval.
type Corpus struct {
	// Name is the system-assigned resource name,
	// projects/{project}/locations/{location}/ragCorpora/{id}.
	Name           string          `json:"name,omitempty"`
	DisplayName    string          `json:"displayName"`
	Description    string          `json:"description,omitempty"`
	VectorDBConfig *VectorDBConfig `json:"vectorDbConfig,omitempty"`
	CreateTime     time.Time       `json:"createTime"`
	UpdateTime     time.Time       `json:"updateTime"`
}

// EmbeddingModel returns the embedding model endpoint of the corpus, if known.
func (c *Corpus) EmbeddingModel() string {
	if c == nil || c.VectorDBConfig == nil || c.VectorDBConfig.RAGEmbeddingModelConfig == nil {
		return ""
	}
	ep := c.VectorDBConfig.RAGEmbeddingModelConfig.VertexPredictionEndpoint
	if ep == nil {
		return ""
	}
	return ep.Endpoint
}

// VectorDBConfig holds the embedding configuration of a corpus.
type VectorDBConfig struct {
	RAGEmbeddingModelConfig *EmbeddingModelConfig `json:"ragEmbeddingModelConfig,omitempty"`
}

// EmbeddingModelConfig references the model that embeds document text.
type EmbeddingModelConfig struct {
	VertexPredictionEndpoint *PredictionEndpoint `json:"vertexPredictionEndpoint,omitempty"`
}

// PredictionEndpoint is a publisher model or endpoint resource name.
type PredictionEndpoint struct {
	Endpoint string `json:"endpoint"`
	Model    string `json:"model,omitempty"`
}

// File is a document registered inside a corpus.
type File struct {
	Name        string    `json:"name,omitempty"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description,omitempty"`
	SizeBytes   Int64     `json:"sizeBytes,omitempty"`
	CreateTime  time.Time `json:"createTime"`
	UpdateTime  time.Time `json:"updateTime"`

	// SourcePath is where the file was uploaded from. It is only known to
	// the process that performed the upload.
	SourcePath string `json:"-"`
}

// Int64 decodes the string-encoded int64 values used by the REST API.
type Int64 int64

func (i *Int64) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			*i = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*i = Int64(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*i = Int64(v)
	return nil
}

// CreateCorpusRequest describes a corpus to create.
type CreateCorpusRequest struct {
	DisplayName string
	Description string
	// EmbeddingModel is a publisher model reference such as
	// publishers/google/models/text-embedding-004, or a full resource name.
	EmbeddingModel string
}

// UploadFileRequest describes a local file to upload into a corpus.
type UploadFileRequest struct {
	Path        string
	DisplayName string
	Description string
}

// operation is a google.longrunning.Operation.
type operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *status         `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// status is a google.rpc.Status.
type status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type listCorporaResponse struct {
	RAGCorpora    []*Corpus `json:"ragCorpora"`
	NextPageToken string    `json:"nextPageToken"`
}

type listFilesResponse struct {
	RAGFiles      []*File `json:"ragFiles"`
	NextPageToken string  `json:"nextPageToken"`
}

type uploadMetadata struct {
	RAGFile uploadRAGFile `json:"rag_file"`
}

type uploadRAGFile struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

type uploadResponse struct {
	RAGFile *File   `json:"ragFile,omitempty"`
	Error   *status `json:"error,omitempty"`
}
