package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pdf-intake/backend/internal/logger"
	"github.com/pdf-intake/backend/internal/models"
)

var ErrExtractionFailed = errors.New("extraction failed")

// Extractor turns a file path into a record.
type Extractor interface {
	Extract(ctx context.Context, path string) (models.Payload, error)
}

// Func adapts a function to Extractor.
type Func func(ctx context.Context, path string) (models.Payload, error)

func (f Func) Extract(ctx context.Context, path string) (models.Payload, error) {
	return f(ctx, path)
}

// Builtin runs the placeholder extraction in process.
var Builtin = Func(func(ctx context.Context, path string) (models.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return Placeholder(path), nil
})

// CommandInvoker runs an external extractor as `Command Args... <path>`.
// The process must print one JSON record on stdout and exit 0; anything
// else is reported as ErrExtractionFailed with stderr attached.
type CommandInvoker struct {
	command string
	args    []string
	timeout time.Duration
	schema  *jsonschema.Schema
	logger  *logger.Logger
}

// NewCommandInvoker compiles the record schema and returns an invoker.
// timeout <= 0 leaves the deadline to the caller's context.
func NewCommandInvoker(command string, args []string, timeout time.Duration, log *logger.Logger) (*CommandInvoker, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("extractor command is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	schema, err := compileSchema(recordSchema())
	if err != nil {
		return nil, err
	}
	return &CommandInvoker{
		command: command,
		args:    append([]string(nil), args...),
		timeout: timeout,
		schema:  schema,
		logger:  log.With("component", "extractor"),
	}, nil
}

func (ci *CommandInvoker) Extract(ctx context.Context, path string) (models.Payload, error) {
	if ci.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ci.timeout)
		defer cancel()
	}

	argv := append(append([]string(nil), ci.args...), path)
	cmd := exec.CommandContext(ctx, ci.command, argv...)
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		ci.logger.Warn("extractor interrupted", "path", path, "elapsed_ms", elapsed.Milliseconds(), "error", ctxErr)
		return nil, fmt.Errorf("%w: %s: %v", ErrExtractionFailed, path, ctxErr)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		ci.logger.Warn("extractor exited with error", "path", path, "elapsed_ms", elapsed.Milliseconds(), "stderr", msg)
		return nil, fmt.Errorf("%w: %s", ErrExtractionFailed, msg)
	}

	rec, err := ci.decode(bytes.TrimSpace(stdout.Bytes()))
	if err != nil {
		ci.logger.Warn("extractor output rejected", "path", path, "error", err)
		return nil, err
	}
	ci.logger.Debug("extractor finished", "path", path, "elapsed_ms", elapsed.Milliseconds())
	return rec, nil
}

func (ci *CommandInvoker) decode(out []byte) (models.Payload, error) {
	var v any
	if err := json.Unmarshal(out, &v); err != nil {
		return nil, fmt.Errorf("%w: output is not JSON: %v", ErrExtractionFailed, err)
	}
	if err := ci.schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: output does not match record schema: %v", ErrExtractionFailed, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: output is not an object", ErrExtractionFailed)
	}
	return models.Payload(obj), nil
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("record.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("record.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
