//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// rpcFDs are the descriptor numbers of the RPC pipes inside the worker.
const rpcFDs = "3,4"

type processHandle struct {
	cmd  *exec.Cmd
	pgid int
}

// attachChannel hands the child ends of the RPC pipes to cmd as fd 3 and 4.
func attachChannel(cmd *exec.Cmd, childR, childW *os.File) {
	cmd.ExtraFiles = []*os.File{childR, childW}
}

func startProcess(cmd *exec.Cmd) (*processHandle, error) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h := &processHandle{cmd: cmd}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		h.pgid = pgid
	}
	return h, nil
}

// kill stops the whole process group immediately.
func (h *processHandle) kill() error {
	if h.pgid > 0 {
		return syscall.Kill(-h.pgid, syscall.SIGKILL)
	}
	return h.cmd.Process.Kill()
}

// terminate asks the process group to exit.
func (h *processHandle) terminate() error {
	if h.pgid > 0 {
		return syscall.Kill(-h.pgid, syscall.SIGTERM)
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *processHandle) release() {}
