package worker

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler"
	"github.com/Sumatoshi-tech/srcforge/pkg/progress"
)

// Result file status values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const (
	// ResultFile is the default result name, next to the request file.
	ResultFile = "result.json"
	filePerm   = 0o600
)

//go:embed request.schema.json
var requestSchema []byte

// ErrSchema is returned when a request file does not match the schema.
var ErrSchema = errors.New("worker request does not match schema")

// Result is the outcome an isolated worker leaves for the orchestrator.
type Result struct {
	Status  string  `json:"status"`
	Error   string  `json:"error,omitempty"`
	Summary Summary `json:"summary"`
}

// WriteRequest stores req as JSON at path.
func WriteRequest(path string, req Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal worker request: %w", err)
	}

	writeErr := os.WriteFile(path, data, filePerm)
	if writeErr != nil {
		return fmt.Errorf("write worker request: %w", writeErr)
	}

	return nil
}

// LoadRequest reads a request file and validates it against the embedded
// JSON schema.
func LoadRequest(path string) (Request, error) {
	var req Request

	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read worker request: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(requestSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return req, fmt.Errorf("validate worker request: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}

		return req, fmt.Errorf("%w: %s", ErrSchema, strings.Join(problems, "; "))
	}

	unmarshalErr := json.Unmarshal(data, &req)
	if unmarshalErr != nil {
		return req, fmt.Errorf("decode worker request: %w", unmarshalErr)
	}

	return req, nil
}

// ResultPath returns where the worker for the request at requestPath writes
// its result.
func ResultPath(requestPath string, req Request) string {
	if req.Result != "" {
		return req.Result
	}

	return filepath.Join(filepath.Dir(requestPath), ResultFile)
}

// ReadResult loads a result file.
func ReadResult(path string) (Result, error) {
	var res Result

	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read worker result: %w", err)
	}

	unmarshalErr := json.Unmarshal(data, &res)
	if unmarshalErr != nil {
		return res, fmt.Errorf("decode worker result: %w", unmarshalErr)
	}

	return res, nil
}

func writeResult(path string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal worker result: %w", err)
	}

	writeErr := os.WriteFile(path, data, filePerm)
	if writeErr != nil {
		return fmt.Errorf("write worker result: %w", writeErr)
	}

	return nil
}

// RunRequestFile is the entry point of an isolated worker process. It loads
// the request, connects to the progress socket when one is named (falling
// back to direct output on stdout), runs the pass and records a Result.
func RunRequestFile(
	ctx context.Context, path string, reg *decompiler.Registry,
	stdout io.Writer, transport progress.Transport, logger *slog.Logger,
) error {
	if logger == nil {
		logger = slog.Default()
	}

	req, err := LoadRequest(path)
	if err != nil {
		return err
	}

	reporter := openReporter(req.Socket, stdout, transport, logger)

	summary, runErr := Run(ctx, req, Deps{Registry: reg, Reporter: reporter, Logger: logger})

	closeErr := reporter.Close()
	if closeErr != nil {
		logger.Warn("worker: progress close failed", "error", closeErr)
	}

	res := Result{Status: StatusOK, Summary: summary}
	if runErr != nil {
		res = Result{Status: StatusFailed, Error: runErr.Error(), Summary: summary}
	}

	resultErr := writeResult(ResultPath(path, req), res)

	return errors.Join(runErr, resultErr)
}

func openReporter(socket string, stdout io.Writer, transport progress.Transport, logger *slog.Logger) progress.Reporter {
	if socket == "" || transport == nil || !transport.Available() {
		return progress.NewDirectReporter(stdout)
	}

	client, err := progress.Dial(transport, socket)
	if err != nil {
		logger.Warn("worker: progress socket unavailable, reporting directly", "socket", socket, "error", err)

		return progress.NewDirectReporter(stdout)
	}

	return client
}
