package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/retrieval"
)

func newIngestCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Seed the local retrieval index with the built-in documentation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = a.cfg.RetrievalSQLitePath
			}
			idx, err := retrieval.NewSQLiteIndex(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			defer idx.Close()

			for _, collection := range []string{retrieval.CommandsCollection, retrieval.QuerySchemaCollection} {
				docs := retrieval.BuiltinDocuments(collection)
				if err := idx.Ingest(cmd.Context(), collection, docs); err != nil {
					return fmt.Errorf("ingest %s: %w", collection, err)
				}
				n, err := idx.Count(cmd.Context(), collection)
				if err != nil {
					return err
				}
				a.logger.Info("collection ingested", zap.String("collection", collection), zap.Int("ingested", len(docs)), zap.Int("total", n))
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d documents\n", collection, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "index database path (defaults to RETRIEVAL_SQLITE_PATH)")
	return cmd
}
