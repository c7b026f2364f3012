//go:build windows

package main

import "os"

var toggleSignals []os.Signal

func isToggleSignal(os.Signal) bool {
	return false
}
