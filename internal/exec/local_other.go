//go:build !unix

package exec

import (
	"os"
	osexec "os/exec"
)

var (
	sigTerm os.Signal = os.Kill
	sigKill os.Signal = os.Kill
)

func setProcessGroup(*osexec.Cmd) {}

func signalGroup(cmd *osexec.Cmd, _ os.Signal) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
