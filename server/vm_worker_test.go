package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/h2co3/sparkling/vm"
)

func TestVMWorkerRecoversPanics(t *testing.T) {
	v := vm.NewVM()
	defer v.Close()
	w := NewVMWorker(v)
	defer w.Stop()

	_, err := w.Do(func(*vm.VM) any { panic("native blew up") })
	if err == nil || !strings.Contains(err.Error(), "native blew up") {
		t.Errorf("Do error = %v, want the panic message", err)
	}

	got, err := w.Do(func(v *vm.VM) any { return len(v.GlobalNames()) })
	if err != nil || got != 0 {
		t.Errorf("Do after panic = %v, %v, want 0, nil", got, err)
	}
}

func TestVMWorkerStopAndCancel(t *testing.T) {
	v := vm.NewVM()
	defer v.Close()
	w := NewVMWorker(v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.DoContext(ctx, func(*vm.VM) any { return nil }); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("DoContext error = %v, want nil or context.Canceled", err)
	}

	w.Stop()
	w.Stop()
	if _, err := w.Do(func(*vm.VM) any { return nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Do after Stop = %v, want ErrWorkerStopped", err)
	}
}
