package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"filecollection/internal/bridge"
	"filecollection/internal/client"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newUploadCommand(c *cli) *cobra.Command {
	var (
		id        string
		chunkSize string
		parallel  int
		retries   int
	)

	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Insert a record for each file and upload its content in chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id != "" && len(args) > 1 {
				return fmt.Errorf("--id can only be used with a single file")
			}
			size, err := humanize.ParseBytes(chunkSize)
			if err != nil || size == 0 {
				return fmt.Errorf("invalid --chunk-size %q", chunkSize)
			}

			cl, err := c.client()
			if err != nil {
				return err
			}
			uploader := client.NewUploader(cl,
				client.WithChunkSize(int64(size)),
				client.WithParallel(parallel),
				client.WithRetries(retries, 500*time.Millisecond),
				client.WithLogger(c.logger),
			)
			b := bridge.New(cl, uploader, c.logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			for _, path := range args {
				fileID := id
				if fileID == "" {
					fileID = uuid.NewString()
				}
				if err := uploadOne(ctx, cmd, b, fileID, path); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "record id (default: random uuid)")
	cmd.Flags().StringVar(&chunkSize, "chunk-size", "1MiB", "chunk size")
	cmd.Flags().IntVar(&parallel, "parallel", 3, "concurrent chunk uploads")
	cmd.Flags().IntVar(&retries, "retries", 2, "retries per chunk")
	return cmd
}

func uploadOne(ctx context.Context, cmd *cobra.Command, b *bridge.Bridge, id, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	out := cmd.OutOrStdout()

	outcome := b.OnFileAdded(ctx, bridge.FileAdded{
		UniqueIdentifier: id,
		FileName:         name,
		Type:             contentType,
		Size:             info.Size(),
		Content:          f,
	})
	if outcome.Err != nil {
		return outcome.Err
	}
	fmt.Fprintf(out, "%s %s (%s) as %s\n", bold("uploading"), name, humanize.IBytes(uint64(info.Size())), gray(id))

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-outcome.Done:
			if err != nil {
				fmt.Fprintf(out, "\r%s %s\n", red("failed"), name)
				return fmt.Errorf("upload %s: %w", name, err)
			}
			fmt.Fprintf(out, "\r%s %s\n", green("done"), name)
			return nil
		case <-ticker.C:
			if fraction, ok := b.Progress().Lookup(id); ok {
				fmt.Fprintf(out, "\r%s %3d%%", yellow("progress"), int(fraction*100))
			}
		}
	}
}
