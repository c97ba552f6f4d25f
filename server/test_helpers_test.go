package server

import (
	"context"
	"io"
	"os"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/h2co3/sparkling/stdlib"
	"github.com/h2co3/sparkling/vm"
	"github.com/h2co3/sparkling/vm/dist"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// One reference VM with the runtime library is created in TestMain and
// shared by every test; it is only read. Executions and sessions get VMs
// of their own.
// ---------------------------------------------------------------------------

var (
	testVM     *vm.VM
	testWorker *VMWorker
)

// TestMain loads the runtime library into the shared reference VM.
func TestMain(m *testing.M) {
	testVM = vm.NewVM()
	if err := stdlib.Load(testVM, io.Discard); err != nil {
		panic(err)
	}
	testWorker = NewVMWorker(testVM)

	code := m.Run()

	testWorker.Stop()
	os.Exit(code)
}

// newTestEvalService creates an EvalService with fresh stores backed by the
// shared reference worker.
func newTestEvalService(t *testing.T, policy *dist.CapabilityPolicy) *EvalService {
	t.Helper()
	handles := NewHandleStore()
	sessions := NewSessionStore(handles, testVM.Config())
	t.Cleanup(sessions.DestroyAll)
	return NewEvalService(testWorker, handles, sessions, nil, policy)
}

// newTestLSP creates an LspServer backed by the shared reference worker.
func newTestLSP() *LspServer {
	return &LspServer{
		worker: testWorker,
		docs:   make(map[string]string),
	}
}

func bg() context.Context {
	return context.Background()
}

// connectReq builds a request from plain Go values.
func connectReq(t *testing.T, fields map[string]any) *connect.Request[structpb.Struct] {
	t.Helper()
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return connect.NewRequest(msg)
}

// field returns a response field or fails the test.
func field(t *testing.T, msg *structpb.Struct, name string) *structpb.Value {
	t.Helper()
	v, ok := msg.GetFields()[name]
	if !ok {
		t.Fatalf("response has no field %q: %v", name, msg)
	}
	return v
}
