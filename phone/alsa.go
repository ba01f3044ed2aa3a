package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// suppressAlsaWarnings points fd 2 at a drained pipe so the ALSA chatter
// PortAudio prints while scanning devices stays off the console. It returns
// a handle on the original stderr for log output and a restore func that
// puts fd 2 back, so runtime crash traces are not swallowed later on.
func suppressAlsaWarnings() (*os.File, func(), error) {
	stderrFd := int(os.Stderr.Fd())
	saved, err := unix.Dup(stderrFd)
	if err != nil {
		return nil, nil, err
	}
	reader, writer, err := os.Pipe()
	if err != nil {
		unix.Close(saved)
		return nil, nil, err
	}
	if err := unix.Dup2(int(writer.Fd()), stderrFd); err != nil {
		unix.Close(saved)
		reader.Close()
		writer.Close()
		return nil, nil, err
	}

	go func() {
		defer reader.Close()
		buffer := make([]byte, 1024)
		for {
			if _, err := reader.Read(buffer); err != nil {
				return
			}
		}
	}()

	restore := func() {
		unix.Dup2(saved, stderrFd)
		// fd 2 no longer refers to the pipe, so this is the last writer and
		// the drain goroutine sees EOF.
		writer.Close()
	}
	return os.NewFile(uintptr(saved), "stderr"), restore, nil
}
