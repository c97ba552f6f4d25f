package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/h2co3/sparkling/cache"
	"github.com/h2co3/sparkling/compiler"
	"github.com/h2co3/sparkling/stdlib"
	"github.com/h2co3/sparkling/vm"
	"github.com/h2co3/sparkling/vm/dist"
)

// Procedure names served by EvalService. Messages are google.protobuf.Struct
// in both directions.
const (
	EvalServiceName = "sparkling.v1.EvalService"

	CompileProcedure        = "/" + EvalServiceName + "/Compile"
	ExecuteProcedure        = "/" + EvalServiceName + "/Execute"
	DisassembleProcedure    = "/" + EvalServiceName + "/Disassemble"
	CreateSessionProcedure  = "/" + EvalServiceName + "/CreateSession"
	DestroySessionProcedure = "/" + EvalServiceName + "/DestroySession"
	CompleteProcedure       = "/" + EvalServiceName + "/Complete"
)

const defaultProgramName = "<rpc>"

// EvalService implements the evaluation procedures.
type EvalService struct {
	handles   *HandleStore
	sessions  *SessionStore
	reference *VMWorker
	cache     *cache.Cache
	policy    *dist.CapabilityPolicy
	config    vm.Config
}

// NewEvalService creates an EvalService. reference is the worker consulted
// for completion outside a session; c may be nil to disable caching.
func NewEvalService(reference *VMWorker, handles *HandleStore, sessions *SessionStore, c *cache.Cache, policy *dist.CapabilityPolicy) *EvalService {
	if policy == nil {
		policy = dist.NewPermissivePolicy()
	}
	return &EvalService{
		handles:   handles,
		sessions:  sessions,
		reference: reference,
		cache:     c,
		policy:    policy,
		config:    reference.VM().Config(),
	}
}

// Compile compiles source and keeps the program under a new handle.
func (s *EvalService) Compile(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	source := stringField(req.Msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	sessionID := stringField(req.Msg, "session")
	if sessionID != "" {
		if _, ok := s.sessions.Get(sessionID); !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", sessionID))
		}
	}

	img, err := s.compileChecked(programName(req.Msg), source)
	if err != nil {
		return nil, err
	}
	hdr, err := vm.ParseHeader(img.Words)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	words := make([]any, len(img.Words))
	for i, w := range img.Words {
		words[i] = w
	}
	requires := make([]any, len(img.Requires))
	for i, r := range img.Requires {
		requires[i] = r
	}
	resp, err := newStruct(map[string]any{
		"handle":    s.handles.Create(img, sessionID),
		"words":     words,
		"registers": hdr.Registers,
		"hash":      fmt.Sprintf("%x", img.Hash),
		"requires":  requires,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

// Execute runs a program given as source or handle. Without a session the
// program runs on a fresh VM. Runtime errors are reported in the response
// as {error, stacktrace}.
func (s *EvalService) Execute(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	img, err := s.resolve(req.Msg, true)
	if err != nil {
		return nil, err
	}
	args, err := argsFromList(req.Msg.GetFields()["args"].GetListValue())
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	var worker *VMWorker
	var output func() string
	if sessionID := stringField(req.Msg, "session"); sessionID != "" {
		session, ok := s.sessions.Get(sessionID)
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", sessionID))
		}
		worker = session.worker
		output = session.takeOutput
	} else {
		machine := vm.NewVMWithConfig(s.config)
		var buf bytes.Buffer
		if err := stdlib.Load(machine, &buf); err != nil {
			machine.Close()
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		worker = NewVMWorker(machine)
		defer func() { go closeWorker(worker) }()
		output = buf.String
	}

	result, err := worker.DoContext(ctx, func(v *vm.VM) interface{} {
		defer releaseAll(args)
		return execute(v, img, args, output)
	})
	if err != nil {
		return nil, workerError(err)
	}
	switch r := result.(type) {
	case *structpb.Struct:
		return connect.NewResponse(r), nil
	case error:
		return nil, connect.NewError(connect.CodeInternal, r)
	}
	return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("unexpected result %T", result))
}

// execute runs img on v. Must be called on the VM worker goroutine.
func execute(v *vm.VM, img *dist.Image, args []vm.Value, output func() string) interface{} {
	res, err := v.Execute(img.Words, img.Name, args...)
	if err != nil {
		var rerr *vm.RuntimeError
		if !errors.As(err, &rerr) {
			return err
		}
		trace := v.StackTrace()
		frames := make([]any, len(trace))
		for i, f := range trace {
			frames[i] = f.Function
		}
		log.Debugf("program %s failed: %v", img.Name, err)
		resp, serr := newStruct(map[string]any{
			"error":      err.Error(),
			"stacktrace": frames,
			"output":     output(),
		})
		if serr != nil {
			return serr
		}
		return resp
	}
	defer res.Release()

	resp, err := newStruct(map[string]any{
		"result": res.String(),
		"type":   res.TypeName(),
		"value":  toProto(res),
		"output": output(),
	})
	if err != nil {
		return err
	}
	return resp
}

// Disassemble returns the listing of a program given as source or handle.
func (s *EvalService) Disassemble(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	img, err := s.resolve(req.Msg, false)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := vm.Disassemble(&buf, img.Words); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp, err := newStruct(map[string]any{"listing": buf.String()})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

// CreateSession creates a new workspace session.
func (s *EvalService) CreateSession(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	session, err := s.sessions.Create(stringField(req.Msg, "name"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp, err := newStruct(map[string]any{"session": session.ID})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

// DestroySession destroys a session and releases its handles.
func (s *EvalService) DestroySession(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id := stringField(req.Msg, "session")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session is required"))
	}
	if !s.sessions.Destroy(id) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return connect.NewResponse(&structpb.Struct{}), nil
}

// Complete returns globals matching a prefix, from the session's VM when a
// session is given.
func (s *EvalService) Complete(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	prefix := stringField(req.Msg, "prefix")
	worker := s.reference
	if id := stringField(req.Msg, "session"); id != "" {
		session, ok := s.sessions.Get(id)
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
		}
		worker = session.worker
	}

	result, err := worker.DoContext(ctx, func(v *vm.VM) interface{} {
		return completeGlobals(v, prefix)
	})
	if err != nil {
		return nil, workerError(err)
	}

	var items []any
	for _, c := range result.([]completion) {
		items = append(items, map[string]any{
			"label":  c.Label,
			"kind":   c.Kind,
			"detail": c.Detail,
		})
	}
	resp, err := newStruct(map[string]any{"items": items})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

// resolve returns the program named by the "handle" field, or compiles the
// "source" field. Compiled sources are checked against the capability
// policy when check is set; handles were checked when they were created.
func (s *EvalService) resolve(msg *structpb.Struct, check bool) (*dist.Image, error) {
	if id := stringField(msg, "handle"); id != "" {
		p, ok := s.handles.Lookup(id)
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", id))
		}
		return p.Image, nil
	}
	source := stringField(msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source or handle is required"))
	}
	if check {
		return s.compileChecked(programName(msg), source)
	}
	img, err := s.compile(programName(msg), source)
	if err != nil {
		return nil, compileError(err)
	}
	return img, nil
}

// compileChecked compiles source and applies the capability policy,
// returning Connect errors.
func (s *EvalService) compileChecked(name, source string) (*dist.Image, error) {
	img, err := s.compile(name, source)
	if err != nil {
		return nil, compileError(err)
	}
	if err := s.policy.CheckImage(img); err != nil {
		return nil, connect.NewError(connect.CodePermissionDenied, err)
	}
	return img, nil
}

// compile builds an image, through the cache when one is configured.
func (s *EvalService) compile(name, source string) (*dist.Image, error) {
	if s.cache != nil {
		img, _, err := s.cache.Compile(name, source, compileWords)
		return img, err
	}
	words, err := compileWords(source)
	if err != nil {
		return nil, err
	}
	return dist.NewImage(name, words, source)
}

func compileWords(source string) ([]uint32, error) {
	unit, err := compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	return unit.Words, nil
}

func programName(msg *structpb.Struct) string {
	if name := stringField(msg, "name"); name != "" {
		return name
	}
	return defaultProgramName
}

// compileError maps a compilation failure to CodeInvalidArgument with the
// error location attached as a Struct detail.
func compileError(err error) error {
	var cerr *compiler.Error
	if !errors.As(err, &cerr) {
		return connect.NewError(connect.CodeInternal, err)
	}
	connErr := connect.NewError(connect.CodeInvalidArgument, err)
	loc, serr := structpb.NewStruct(map[string]any{
		"kind":    cerr.Kind.String(),
		"line":    cerr.Pos.Line,
		"column":  cerr.Pos.Column,
		"message": cerr.Msg,
	})
	if serr == nil {
		if detail, derr := connect.NewErrorDetail(loc); derr == nil {
			connErr.AddDetail(detail)
		}
	}
	return connErr
}

// workerError maps a VMWorker failure to a Connect error.
func workerError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrWorkerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
