package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/photon-dev/photon/internal/rpc"
)

const envHelper = "PHOTON_TEST_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(envHelper) {
	case "worker":
		os.Exit(runFakeWorker())
	case "exit":
		os.Exit(runExitHelper())
	}
	os.Exit(m.Run())
}

// fakeWorker plays the JavaScript worker inside a helper process.
type fakeWorker struct {
	mode   string
	server *rpc.ServerClient
}

func (w *fakeWorker) Start(ctx context.Context, data rpc.WorkerData) (rpc.StartResult, error) {
	switch w.mode {
	case "fail":
		return rpc.StartResult{}, errors.New("SyntaxError: Unexpected token in " + data.Entry)
	case "hang":
		select {}
	case "crash":
		go func() {
			time.Sleep(500 * time.Millisecond)
			os.Exit(3)
		}()
	case "fetch":
		res, r := w.server.FetchModule(ctx, data.Entry, "")
		if !r.OK() {
			return rpc.StartResult{}, r.AsError()
		}
		if res.Code != "export default 1" {
			return rpc.StartResult{}, errors.New("unexpected code " + res.Code)
		}
	}
	return rpc.StartResult{PID: os.Getpid()}, nil
}

func (w *fakeWorker) InvalidateDepTree(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return errors.New("no ids")
	}
	return nil
}

func (w *fakeWorker) DeleteByModuleID(ctx context.Context, id string) (bool, error) {
	return id == "/app/server.ts", nil
}

func runFakeWorker() int {
	in, out := 3, 4
	if fds := strings.Split(os.Getenv(EnvRPCFDs), ","); len(fds) == 2 {
		in, _ = strconv.Atoi(fds[0])
		out, _ = strconv.Atoi(fds[1])
	}
	peer := rpc.NewPeer(os.NewFile(uintptr(in), "rpc-in"), os.NewFile(uintptr(out), "rpc-out"), rpc.Options{})
	w := &fakeWorker{mode: os.Getenv("PHOTON_TEST_MODE"), server: rpc.NewServerClient(peer)}
	rpc.RegisterWorkerHandlers(peer, w)
	_ = peer.Serve(context.Background())
	return 0
}

// runExitHelper exits with the n-th code of PHOTON_TEST_CODES, where n is
// the number of previous runs recorded in PHOTON_TEST_COUNTER.
func runExitHelper() int {
	counter := os.Getenv("PHOTON_TEST_COUNTER")
	data, _ := os.ReadFile(counter)
	runs := len(data)
	_ = os.WriteFile(counter, append(data, 'x'), 0644)

	codes := strings.Split(os.Getenv("PHOTON_TEST_CODES"), ",")
	if runs >= len(codes) {
		runs = len(codes) - 1
	}
	code, _ := strconv.Atoi(codes[runs])
	return code
}

func helperCommand(mode string, env ...string) CommandFunc {
	return func(spec LaunchSpec) (*exec.Cmd, error) {
		cmd := exec.Command(os.Args[0], "-test.run=^$")
		cmd.Env = append([]string{envHelper + "=worker", "PHOTON_TEST_MODE=" + mode}, env...)
		return cmd, nil
	}
}
