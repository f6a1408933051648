package main

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// deviceSet owns the opened devices. It routes egress datagrams to them by
// interface name and closes every device exactly once.
type deviceSet struct {
	devs map[string]io.ReadWriteCloser

	closeOnce sync.Once
	closeErr  error
}

func newDeviceSet() *deviceSet {
	return &deviceSet{devs: make(map[string]io.ReadWriteCloser)}
}

// add registers dev under name. It must not be called once the read loops
// have started.
func (s *deviceSet) add(name string, dev io.ReadWriteCloser) {
	s.devs[name] = dev
}

// Send implements router.Sender.
func (s *deviceSet) Send(packet []byte, name string) error {
	dev, ok := s.devs[name]
	if !ok {
		return fmt.Errorf("no device for interface %s", name)
	}
	_, err := dev.Write(packet)
	return err
}

// close closes all devices, unblocking pending reads. Later calls return the
// result of the first one.
func (s *deviceSet) close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for name, dev := range s.devs {
			if err := dev.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
