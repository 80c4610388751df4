package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bft-labs/graphbatch/pkg/batch"
	"github.com/bft-labs/graphbatch/pkg/graph"
	"github.com/bft-labs/graphbatch/pkg/graphbatch"
)

// maxLineSize bounds one JSON-lines request.
const maxLineSize = 4 << 20

// resultLine is printed for every input line, in input order.
type resultLine struct {
	Index int             `json:"index"`
	ID    string          `json:"id,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  int             `json:"code,omitempty"`
}

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send [file]",
		Short: "Send JSON-lines requests from a file or stdin and print the results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			cfg := a.serviceConfig()
			cfg.SpoolDir = ""
			svc, err := a.newService(cfg)
			if err != nil {
				return err
			}
			return runSend(cmd.Context(), svc, in, cmd.OutOrStdout())
		},
	}
}

// runSend enqueues every line of in, drains the service and writes one
// result line per input line to out.
func runSend(ctx context.Context, svc *graphbatch.Service, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	var (
		futures []*batch.Future
		parse   = map[int]error{}
	)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		i := len(futures)
		var req graph.Request
		if err := json.Unmarshal(line, &req); err != nil {
			parse[i] = fmt.Errorf("decode request: %w", err)
			futures = append(futures, nil)
			continue
		}
		if err := req.Validate(); err != nil {
			parse[i] = err
			futures = append(futures, nil)
			continue
		}
		futures = append(futures, svc.Enqueue(req))
	}
	scanErr := scanner.Err()

	stopErr := svc.Stop()

	enc := json.NewEncoder(out)
	failed := 0
	for i, f := range futures {
		line := resultLine{Index: i}
		var err error
		if f == nil {
			err = parse[i]
		} else {
			line.ID = f.ID()
			line.Body, err = f.Result()
		}
		if err != nil {
			failed++
			line.Body = nil
			line.Error = err.Error()
			var batchErr *batch.Error[graph.Request]
			if errors.As(err, &batchErr) {
				line.Code = batchErr.StatusCode()
				line.Body = batchErr.Response.Body
			}
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}

	if scanErr != nil {
		return fmt.Errorf("read requests: %w", scanErr)
	}
	if stopErr != nil {
		return fmt.Errorf("stop service: %w", stopErr)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(futures))
	}
	return nil
}
