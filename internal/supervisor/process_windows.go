//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Windows cannot pass extra descriptors, so the worker speaks RPC over
// its stdin and stdout.
const rpcFDs = "0,1"

type processHandle struct {
	cmd *exec.Cmd
	job windows.Handle
}

func attachChannel(cmd *exec.Cmd, childR, childW *os.File) {
	cmd.Stdin = childR
	cmd.Stdout = childW
}

func startProcess(cmd *exec.Cmd) (*processHandle, error) {
	job, err := createJobObject()
	if err != nil {
		job = 0
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
	if err := cmd.Start(); err != nil {
		if job != 0 {
			windows.CloseHandle(job)
		}
		return nil, err
	}

	if job != 0 {
		if err := assignProcessToJob(job, cmd.Process.Pid); err != nil {
			windows.CloseHandle(job)
			job = 0
		}
	}
	return &processHandle{cmd: cmd, job: job}, nil
}

func (h *processHandle) kill() error {
	if h.job != 0 {
		return windows.TerminateJobObject(h.job, 1)
	}
	return h.cmd.Process.Kill()
}

// terminate has no graceful variant on windows.
func (h *processHandle) terminate() error {
	return h.kill()
}

func (h *processHandle) release() {
	if h.job != 0 {
		windows.CloseHandle(h.job)
		h.job = 0
	}
}

func createJobObject() (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{}
	info.BasicLimitInformation.LimitFlags = windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
	_, err = windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	if err != nil {
		windows.CloseHandle(job)
		return 0, err
	}
	return job, nil
}

func assignProcessToJob(job windows.Handle, pid int) error {
	handle, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(handle)
	return windows.AssignProcessToJobObject(job, handle)
}
