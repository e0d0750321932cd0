//go:build windows

package cmd

import "os"

var suspendSignal os.Signal
