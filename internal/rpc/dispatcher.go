package rpc

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
	"github.com/contextkeep/ltmc/internal/platform/metrics"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "ltmc"
	ServerVersion   = "1.0.0"

	// maxLineBytes bounds a single request line on stdin.
	maxLineBytes = 8 << 20

	defaultTimeout  = 30 * time.Second
	defaultInFlight = 32
)

// Options tunes dispatcher limits. Zero values take defaults.
type Options struct {
	MaxInFlight    int64
	DefaultTimeout time.Duration

	// AuthEnabled gates write-shaped tools on a token argument matching
	// APIToken. The HTTP adapter enforces the same token at the transport
	// edge instead.
	AuthEnabled bool
	APIToken    string
}

// Dispatcher routes JSON-RPC envelopes to registered tools. The same
// Handle path serves both the stdio loop and the HTTP adapter, so the two
// transports produce identical result bytes for identical requests.
type Dispatcher struct {
	log     *logger.Logger
	metrics *metrics.Registry
	opts    Options

	tools map[string]*Tool
	order []string

	sem *semaphore.Weighted
}

func NewDispatcher(log *logger.Logger, reg *metrics.Registry, opts Options) *Dispatcher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultInFlight
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	return &Dispatcher{
		log:     log.With("component", "dispatcher"),
		metrics: reg,
		opts:    opts,
		tools:   make(map[string]*Tool),
		sem:     semaphore.NewWeighted(opts.MaxInFlight),
	}
}

// Register adds a tool to the catalog. Registration happens once at startup;
// the catalog is immutable afterwards.
func (d *Dispatcher) Register(t *Tool) {
	if _, dup := d.tools[t.Name]; dup {
		d.log.Warn("duplicate tool registration ignored", "tool", t.Name)
		return
	}
	d.tools[t.Name] = t
	d.order = append(d.order, t.Name)
}

// Catalog lists tool descriptors in registration order.
func (d *Dispatcher) Catalog() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tools[name].descriptor())
	}
	return out
}

// Serve reads newline-delimited envelopes from r until EOF or ctx
// cancellation, writing one reply line per request to w. Requests run
// concurrently up to the in-flight bound; replies are serialized so lines
// never interleave.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var wg sync.WaitGroup
	var writeMu sync.Mutex
	write := func(resp *Response) {
		if resp == nil {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			d.log.Error("marshal response", "error", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := w.Write(append(data, '\n')); err != nil {
			d.log.Error("write response", "error", err)
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if !d.sem.TryAcquire(1) {
			write(d.overloaded(line))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.sem.Release(1)
			write(d.Handle(ctx, line))
		}()
	}
	wg.Wait()

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return ctx.Err()
}

// overloaded replies without running the handler. The request is still
// parsed for its id so the caller can correlate the rejection.
func (d *Dispatcher) overloaded(line []byte) *Response {
	var req Request
	_ = json.Unmarshal(line, &req)
	d.log.Warn("request rejected: in-flight limit reached", "method", req.Method)
	return resultResponse(req.ID, map[string]any{
		"success": false,
		"error":   string(ltmerr.KindOverloaded),
		"message": "server is at its concurrent request limit",
	})
}

// Handle parses one raw envelope and produces the reply. Exported so the
// HTTP adapter can reuse the exact same routing and result shapes.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, ltmerr.CodeParseError, "invalid JSON: "+err.Error())
	}
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, ltmerr.CodeParseError, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerName:      ServerName,
			ServerVersion:   ServerVersion,
			Capabilities:    map[string]any{"tools": true},
		})
	case "tools/list":
		started := time.Now()
		catalog := d.Catalog()
		d.metrics.Observe("tools/list", time.Since(started), false, false)
		return resultResponse(req.ID, catalog)
	case "tools/call":
		return d.handleCall(ctx, &req)
	default:
		return errorResponse(req.ID, ltmerr.CodeMethodNotFound, "unknown method "+req.Method)
	}
}

func (d *Dispatcher) handleCall(ctx context.Context, req *Request) *Response {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, ltmerr.CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	tool, ok := d.tools[params.Name]
	if !ok {
		return errorResponse(req.ID, ltmerr.CodeInvalidParams, "unknown tool "+params.Name)
	}
	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	action, _ := args["action"].(string)
	if action == "" {
		return errorResponse(req.ID, ltmerr.CodeInvalidParams, "missing action argument")
	}
	handler, ok := tool.Actions[action]
	if !ok {
		return errorResponse(req.ID, ltmerr.CodeInvalidParams, "unknown action "+action+" for tool "+params.Name)
	}

	if err := d.authorize(tool, args); err != nil {
		return resultResponse(req.ID, failureResult(err))
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = d.opts.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handlerName := tool.Name + "." + action
	started := time.Now()
	result, err := handler(callCtx, args)
	elapsed := time.Since(started)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = ltmerr.New(ltmerr.KindTimeout, handlerName, errors.New("deadline exceeded"))
		}
		d.metrics.Observe(handlerName, elapsed, true, false)
		d.log.Warn("tool call failed",
			"tool", tool.Name, "action", action,
			"kind", string(ltmerr.KindOf(err)), "error", err, "elapsed", elapsed)
		if code := ltmerr.Code(err); code != 0 {
			return errorResponse(req.ID, code, err.Error())
		}
		return resultResponse(req.ID, failureResult(err))
	}

	if result == nil {
		result = map[string]any{}
	}
	if _, ok := result["success"]; !ok {
		result["success"] = true
	}
	degraded, _ := result["degraded"].(bool)
	d.metrics.Observe(handlerName, elapsed, false, degraded)
	d.log.Debug("tool call ok", "tool", tool.Name, "action", action, "elapsed", elapsed)
	return resultResponse(req.ID, result)
}

// authorize applies the optional token gate on write-shaped tools. The
// comparison is constant time regardless of token length.
func (d *Dispatcher) authorize(tool *Tool, args map[string]any) error {
	if !d.opts.AuthEnabled || !tool.WriteShaped {
		return nil
	}
	token, _ := args["token"].(string)
	if subtle.ConstantTimeCompare([]byte(token), []byte(d.opts.APIToken)) != 1 {
		return ltmerr.Newf(ltmerr.KindUnauthorized, tool.Name, "missing or invalid token")
	}
	return nil
}
