// Command pacecheck starts several discovery processes at once with request
// tracing enabled and reports the gaps between their paced requests. Gaps
// shorter than the configured cooldown mean the dispatcher lock leaked.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"forager/search"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Request struct {
	Binary    string          `json:"binary"`
	Processes int             `json:"processes"`
	Payload   json.RawMessage `json:"payload"`
}

type Report struct {
	Timestamps []float64 `json:"timestamps"`
	Gaps       []float64 `json:"gaps"`
	MinGap     float64   `json:"min_gap"`
	Failures   []string  `json:"failures,omitempty"`
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, `usage: pacecheck '{"binary": "./forager", "processes": 3, "payload": {"topic": "..."}}'`)
		os.Exit(2)
	}
	var req Request
	if err := json.Unmarshal([]byte(os.Args[1]), &req); err != nil {
		logger.Fatal("invalid request", zap.Error(err))
	}
	if req.Binary == "" || len(req.Payload) == 0 {
		logger.Fatal("binary and payload are required")
	}
	if req.Processes <= 0 {
		req.Processes = 3
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := check(ctx, req, logger)
	if err != nil {
		logger.Fatal("pace check failed", zap.Error(err))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

func check(ctx context.Context, req Request, logger *zap.Logger) (Report, error) {
	var (
		mu       sync.Mutex
		stamps   []float64
		failures []string
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < req.Processes; i++ {
		g.Go(func() error {
			ts, err := spawn(ctx, req.Binary, string(req.Payload))
			mu.Lock()
			defer mu.Unlock()
			stamps = append(stamps, ts...)
			if err != nil {
				// A failed search still produced valid timestamps.
				logger.Warn("process failed", zap.Int("process", i), zap.Error(err))
				failures = append(failures, fmt.Sprintf("process %d: %v", i, err))
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if len(stamps) == 0 {
		return Report{Failures: failures}, errors.New("no request timestamps were traced")
	}
	return summarize(stamps, failures), nil
}

// spawn runs one discovery process and returns the timestamps it traced.
func spawn(ctx context.Context, binary, payload string) ([]float64, error) {
	cmd := exec.CommandContext(ctx, binary, payload)
	cmd.Env = append(os.Environ(), "BIONIC_TRACE=1")
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	stamps := parseTrace(stderr)
	return stamps, cmd.Wait()
}

// parseTrace reads r to EOF whatever the line lengths, so the child never
// blocks on a full stderr pipe.
func parseTrace(r io.Reader) []float64 {
	var out []float64
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), search.TracePrefix+" "); ok {
			if v, perr := strconv.ParseFloat(strings.TrimSpace(rest), 64); perr == nil {
				out = append(out, v)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				_, _ = io.Copy(io.Discard, r)
			}
			return out
		}
	}
}

func summarize(stamps []float64, failures []string) Report {
	slices.Sort(stamps)
	r := Report{Timestamps: stamps, Failures: failures, Gaps: []float64{}}
	for i := 1; i < len(stamps); i++ {
		r.Gaps = append(r.Gaps, round(stamps[i]-stamps[i-1]))
	}
	if len(r.Gaps) > 0 {
		r.MinGap = slices.Min(r.Gaps)
	}
	return r
}

func round(seconds float64) float64 {
	return float64(time.Duration(seconds*float64(time.Second)).Round(time.Millisecond)) / float64(time.Second)
}
