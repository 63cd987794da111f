// Command batchup uploads a directory of files as one batch through a
// coordinating service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/packlane/batchup"
	"github.com/packlane/batchup/uptypes"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "batchup",
		Short:         "Batch uploads through presigned URLs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newUploadCmd())

	return cmd
}

func newUploadCmd() *cobra.Command {
	var (
		workerURL       string
		uploader        string
		parallelUploads int
		parallelParts   int
		maxRetries      int
	)

	cmd := &cobra.Command{
		Use:   "upload <dir>",
		Short: "Upload every file under a directory as one batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workerURL == "" {
				return fmt.Errorf("worker URL is required (--worker-url or BATCHUP_WORKER_URL)")
			}

			retry := uptypes.DefaultRetryOptions()
			retry.MaxRetries = maxRetries

			client, err := batchup.New(workerURL,
				batchup.WithUploader(uploader),
				batchup.WithParallelUploads(parallelUploads),
				batchup.WithParallelParts(parallelParts),
				batchup.WithRetryOptions(retry),
				batchup.WithObserver(&consoleProgress{out: cmd.ErrOrStderr()}),
			)
			if err != nil {
				return err
			}

			result, err := client.UploadDir(cmd.Context(), args[0])
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&workerURL, "worker-url", os.Getenv("BATCHUP_WORKER_URL"),
		"base URL of the coordinating service")
	cmd.Flags().StringVar(&uploader, "uploader", "batchup-cli",
		"uploader identity reported to the coordinating service")
	cmd.Flags().IntVar(&parallelUploads, "parallel-uploads", 5,
		"how many files to transfer at once")
	cmd.Flags().IntVar(&parallelParts, "parallel-parts", 5,
		"chunk concurrency within one multipart file")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3,
		"retries per network operation")

	return cmd
}

func printSummary(out io.Writer, result *uptypes.BatchResult) {
	fmt.Fprintf(out, "Batch %s: %d files, %s uploaded in %s\n",
		result.BatchID,
		result.FilesUploaded,
		humanize.Bytes(uint64(result.BytesUploaded)),
		result.Duration.Round(time.Millisecond))
	if result.StoragePrefix != "" {
		fmt.Fprintf(out, "Stored under %s\n", result.StoragePrefix)
	}
	if len(result.Failed) > 0 {
		fmt.Fprintf(out, "Warning: %d files failed:\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Fprintf(out, "  %s: %s\n", f.LogicalPath, f.Error)
		}
	}
}

// consoleProgress rewrites one status line per settle event.
type consoleProgress struct {
	out io.Writer
}

func (c *consoleProgress) Update(p uptypes.Progress) {
	fmt.Fprintf(c.out, "\r%d/%d files, %s / %s",
		p.FilesCompleted+p.FilesFailed,
		p.TotalFiles,
		humanize.Bytes(uint64(p.BytesUploaded)),
		humanize.Bytes(uint64(p.TotalBytes)))
	if p.FilesFailed > 0 {
		fmt.Fprintf(c.out, " (%d failed)", p.FilesFailed)
	}
}
