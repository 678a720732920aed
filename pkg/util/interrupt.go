package util

import (
	"os"
	"os/signal"
	"syscall"
)

// WaitForInterrupt blocks until the process receives SIGINT or SIGTERM.
func WaitForInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	signal.Stop(sig)
}
