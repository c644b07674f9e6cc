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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sscollege/helpdesk/pkg/config"
	"github.com/sscollege/helpdesk/pkg/corpus"
	"github.com/sscollege/helpdesk/pkg/ragengine"
)

// ProvisionCmd runs the one-shot corpus setup.
type ProvisionCmd struct {
	Document    string `help:"Local path or http(s) URL of the document to upload (default from DOCUMENT_PATH)."`
	DisplayName string `name:"display-name" help:"Corpus display name (default from CORPUS_DISPLAY_NAME)."`
	Description string `help:"Corpus description."`
	NoPersist   bool   `name:"no-persist" help:"Do not write RAG_CORPUS to the env file."`
}

func (c *ProvisionCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	stopTracing, err := cli.startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTracing()
	if c.Document != "" {
		cfg.Document.Path = c.Document
		cfg.Document.DisplayName = ""
	}
	if c.DisplayName != "" {
		cfg.Corpus.DisplayName = c.DisplayName
	}
	if c.Description != "" {
		cfg.Corpus.Description = c.Description
		cfg.Document.Description = ""
	}
	cfg.SetDefaults()

	client, err := newRAGClient(ctx, cfg)
	if err != nil {
		return err
	}

	plan := corpus.PlanFromConfig(cfg)
	if c.NoPersist {
		plan.EnvFile = ""
	}

	report, err := corpus.NewProvisioner(client).Run(ctx, plan)
	if err != nil {
		return err
	}

	action := "Reused"
	if report.Created {
		action = "Created"
	}
	fmt.Printf("%s corpus %s (%s)\n", action, report.Corpus.Name, report.Corpus.DisplayName)
	if report.File != nil {
		fmt.Printf("Uploaded %s as %s\n", report.File.DisplayName, report.File.Name)
	}
	if report.ListErr == nil {
		printFiles(os.Stdout, report.Files)
	}
	if !report.OK() {
		slog.Warn("Provisioning finished with errors",
			"upload_error", report.UploadErr,
			"persist_error", report.PersistErr,
			"list_error", report.ListErr)
	}
	return nil
}

// CorporaCmd lists corpora.
type CorporaCmd struct{}

func (c *CorporaCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	stopTracing, err := cli.startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTracing()
	client, err := newRAGClient(ctx, cfg)
	if err != nil {
		return err
	}
	list, err := client.ListCorpora(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tEMBEDDING MODEL\tCREATED")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.DisplayName, c.EmbeddingModel(), formatTime(c.CreateTime))
	}
	return tw.Flush()
}

// FilesCmd lists the documents of a corpus.
type FilesCmd struct {
	Corpus string `help:"Corpus resource name (default RAG_CORPUS)."`
}

func (c *FilesCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	stopTracing, err := cli.startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTracing()
	name := c.Corpus
	if name == "" {
		name = cfg.RAGCorpus
	}
	if name == "" {
		return errors.New("no corpus given: set RAG_CORPUS or pass --corpus")
	}

	client, err := newRAGClient(ctx, cfg)
	if err != nil {
		return err
	}
	files, err := corpus.NewProvisioner(client).ListFiles(ctx, name)
	if err != nil {
		return err
	}
	printFiles(os.Stdout, files)
	return nil
}

func newRAGClient(ctx context.Context, cfg *config.Config) (*ragengine.Client, error) {
	hc, err := ragengine.NewAuthenticatedHTTPClient(ctx, cfg.AccessToken)
	if err != nil {
		return nil, err
	}
	return ragengine.New(cfg.Project, cfg.Location, ragengine.WithHTTPClient(hc))
}

// printFiles writes the file table, if any, followed by the total count.
func printFiles(w io.Writer, files []*ragengine.File) {
	if len(files) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tSIZE\tCREATED")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.Name, f.DisplayName, f.SizeBytes, formatTime(f.CreateTime))
		}
		_ = tw.Flush()
	}
	fmt.Fprintf(w, "Total files in corpus: %d\n", len(files))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
