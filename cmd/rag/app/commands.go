package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kart-io/compliance-rag/cmd/rag/app/options"
	"github.com/kart-io/compliance-rag/internal/model"
	ragsvc "github.com/kart-io/compliance-rag/internal/rag"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
)

func newBuildCommand(opts *options.ServerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Rebuild the vector index from the documents directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *ragsvc.Runtime) error {
				report, err := rt.Service.BuildIndex(ctx)
				if err != nil {
					return describeError(err)
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
}

func newAskCommand(opts *options.ServerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question against the built index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withRuntime(opts, func(ctx context.Context, rt *ragsvc.Runtime) error {
				result, err := rt.Service.Query(ctx, question)
				if err != nil {
					return describeError(err)
				}
				printAnswer(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
}

func withRuntime(opts *options.ServerOptions, fn func(ctx context.Context, rt *ragsvc.Runtime) error) error {
	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.InitLogger(); err != nil {
		return err
	}

	ctx := setupSignalContext()
	rt, err := cfg.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	return fn(ctx, rt)
}

func printReport(w io.Writer, r *model.BuildReport) {
	fmt.Fprintf(w, "Index built: %d documents, %d chunks (dim %d, %s backend) in %s\n",
		r.DocumentCount, r.ChunkCount, r.Dimension, r.Backend, r.Duration)
	for _, f := range r.SkippedFiles {
		fmt.Fprintf(w, "  skipped: %s\n", f)
	}
}

func printAnswer(w io.Writer, result *model.QueryResult) {
	fmt.Fprintln(w, result.Generation)
	if len(result.Documents) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, d := range result.Documents {
		if d.Page > 0 {
			fmt.Fprintf(w, "  %d. %s (page %d)\n", i+1, d.Source, d.Page)
		} else {
			fmt.Fprintf(w, "  %d. %s\n", i+1, d.Source)
		}
	}
}

// errorKinds names the caller-facing error kinds.
var errorKinds = map[int]string{
	errors.ErrRAGConfig.Code:          "configuration error",
	errors.ErrRAGIndexNotReady.Code:   "index not ready",
	errors.ErrRAGEmptyCorpus.Code:     "empty corpus",
	errors.ErrRAGModelCall.Code:       "model call failed",
	errors.ErrRAGInvalidQuery.Code:    "invalid question",
	errors.ErrRAGArtifact.Code:        "index artifact error",
	errors.ErrRAGBuildInProgress.Code: "build in progress",
	errors.ErrRAGGraph.Code:           "query graph error",
	errors.ErrRequestTimeout.Code:     "cancelled",
}

// describeError renders err as "kind: message".
func describeError(err error) error {
	e := errors.FromError(err)
	kind, ok := errorKinds[e.Code]
	if !ok {
		kind = "internal error"
	}
	msg := e.MessageEN
	if cause := e.Cause(); cause != nil && !strings.Contains(msg, cause.Error()) {
		msg = fmt.Sprintf("%s (%v)", msg, cause)
	}
	return fmt.Errorf("%s: %s", kind, msg)
}
