//go:build !windows

package main

import (
	"os"
	"syscall"
)

var toggleSignals = []os.Signal{syscall.SIGUSR1}

func isToggleSignal(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}
