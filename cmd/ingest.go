package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/config"
	"github.com/kulesh/catsyphon-sub001/internal/ingest"
)

func ingestCmd() *cobra.Command {
	var workspaceIDStr string
	var skipDuplicates bool

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "One-shot ingestion of a single agent conversation log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, err := uuid.Parse(workspaceIDStr)
			if err != nil {
				return apperr.Wrap(apperr.InvalidArgument, "--workspace-id is required and must be a UUID", err)
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return apperr.Wrap(apperr.Internal, "load config", err)
			}
			logger := newLogger(cfg)

			stores, db, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			registry, err := newRegistry(cfg, logger)
			if err != nil {
				return err
			}

			pipeline := ingest.NewPipeline(stores, registry, logger)
			outcome, err := pipeline.IngestLogFile(context.Background(), workspaceID, args[0], ingest.Hints{
				SourceType: ingest.SourceCLI,
			}, ingest.Policy{SkipDuplicates: skipDuplicates})
			if err != nil {
				return err
			}

			fmt.Printf("status=%s conversation_id=%s messages_added=%d parse_method=%s\n",
				outcome.Status, outcome.ConversationID, outcome.MessagesAdded, outcome.ParseMethod)
			for _, w := range outcome.Warnings {
				fmt.Println("warning:", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspaceIDStr, "workspace-id", "", "workspace UUID to ingest into (required)")
	cmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", true, "close the job as duplicate instead of failing when the file's content hash was already ingested")
	return cmd
}
