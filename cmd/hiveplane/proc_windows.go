//go:build windows

package main

import "os/exec"

func configureDaemonProc(cmd *exec.Cmd) {
	// Windows has no session groups; the default detachment is enough here.
}
