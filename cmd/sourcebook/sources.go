package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/Sourcebook/internal/apiclient"
	"github.com/markdave123-py/Sourcebook/internal/config"
	db "github.com/markdave123-py/Sourcebook/internal/core/database"
	"github.com/markdave123-py/Sourcebook/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/Sourcebook/internal/core/object-client"
	"github.com/markdave123-py/Sourcebook/internal/core/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Upload documents as knowledge sources",
	Long: `Upload stores the files in the object store, creates a pending source for each
and asks the server to ingest it. With DATABASE_URL set the CLI writes the object
store and database itself; otherwise the files go through the server's upload endpoint.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		var batch *upload.Batch
		if cfg.DBDriver == "postgres" && cfg.DatabaseURL != "" {
			batch, err = uploadDirect(ctx, cfg, client, args)
		} else {
			batch, err = client.UploadFiles(ctx, args)
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSTATUS\tSOURCE\tERROR")
		for _, f := range batch.Files {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name, f.Status, f.SourceID, f.Error)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait {
			return nil
		}
		for _, id := range batch.SourceIDs {
			src, err := client.WaitForSource(ctx, id, 2*time.Second)
			if err != nil {
				return err
			}
			msg := ""
			if src.ErrorMessage != nil {
				msg = *src.ErrorMessage
			}
			fmt.Printf("%s: %s (%d chunks) %s\n", src.Name, src.Status, src.ChunkCount, msg)
		}
		return nil
	},
}

// uploadDirect runs the upload coordinator against the configured backends and
// triggers ingestion over HTTP. Progress lines go to stderr.
func uploadDirect(ctx context.Context, cfg *config.Config, client *apiclient.Client, paths []string) (*upload.Batch, error) {
	ownerID, err := client.UserID()
	if err != nil {
		return nil, err
	}

	store, err := db.NewDatabaseClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	objects, err := objectclient.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	files := make([]upload.File, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		path := p
		files = append(files, upload.File{
			Name:        filepath.Base(path),
			Size:        info.Size(),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Open:        func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}

	policy := upload.DefaultPolicy()
	policy.MaxFiles = cfg.MaxUploadFiles
	policy.MaxBytes = cfg.MaxUploadBytes

	trigger := func(ctx context.Context, sourceID string) error {
		res, err := client.ProcessDocument(ctx, sourceID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ingest %s: %v\n", sourceID, err)
			return err
		}
		fmt.Fprintf(os.Stderr, "ingested %s: %d chunks\n", sourceID, res.ChunkCount)
		return nil
	}

	coord := upload.NewCoordinator(store, objects, cfg.BucketName, policy, trigger)
	coord.OnProgress = func(_ int, r upload.FileResult) {
		fmt.Fprintf(os.Stderr, "%s: %s\n", r.Name, r.Status)
	}
	batch := coord.Upload(ctx, ownerID, files)
	coord.WaitTriggers()
	return batch, nil
}

var ingestCmd = &cobra.Command{
	Use:   "ingest SOURCE_ID",
	Short: "Ingest or re-ingest a source synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		res, err := client.ProcessDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("source %s ready: %d chunks, %d characters\n", res.SourceID, res.ChunkCount, res.TextLength)
		return nil
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl URL",
	Short: "Ingest a web page, or a whole site with --subpages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		subpages, _ := cmd.Flags().GetBool("subpages")
		sitemap, _ := cmd.Flags().GetBool("sitemap")

		res, err := client.IngestWebsite(cmd.Context(), ingestion_engine.WebsiteRequest{
			URL:           args[0],
			CrawlSubpages: subpages,
			FollowSitemap: sitemap,
		})
		if err != nil {
			return err
		}
		fmt.Printf("source %s: %d pages, %d chunks, %d characters\n", res.SourceID, res.PageCount, res.ChunkCount, res.TextLength)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "sources",
	Short: "List your knowledge sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		sources, err := client.ListSources(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tCHUNKS")
		for _, s := range sources {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", s.ID, s.Name, s.Type, s.Status, s.ChunkCount)
		}
		return w.Flush()
	},
}

func init() {
	uploadCmd.Flags().Bool("wait", false, "wait until every uploaded source is ready or failed")
	crawlCmd.Flags().Bool("subpages", false, "crawl linked pages under the URL")
	crawlCmd.Flags().Bool("sitemap", false, "follow the site's sitemap")

	rootCmd.AddCommand(uploadCmd, ingestCmd, crawlCmd, listCmd)
}
