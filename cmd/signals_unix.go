//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

var suspendSignal os.Signal = syscall.SIGUSR1
