// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package hotplug

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/deckfs/internal/log"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const recvTimeout = 500 * time.Millisecond

// Listener receives kernel uevents on a NETLINK_KOBJECT_UEVENT socket.
type Listener struct {
	fd     int
	events chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// New opens the uevent socket and starts receiving.
func New() (*Listener, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("uevent socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind uevent socket: %w", err)
	}
	tv := unix.NsecToTimeval(recvTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("uevent socket timeout: %w", err)
	}

	l := &Listener{
		fd:     fd,
		events: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: log.WithComponent("hotplug"),
	}
	go l.loop()
	l.logger.Info().Msg("listening for USB hotplug events")
	return l, nil
}

// Events signals relevant USB activity. Bursts coalesce into one signal.
func (l *Listener) Events() <-chan struct{} { return l.events }

func (l *Listener) loop() {
	defer close(l.done)
	buf := make([]byte, 64<<10)
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		n, _, err := unix.Recvfrom(l.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			l.logger.Error().Err(err).Msg("uevent receive failed, hotplug detection disabled")
			return
		}
		ev, ok := ParseUevent(buf[:n])
		if !ok || !ev.Relevant() {
			continue
		}
		l.logger.Debug().Str("action", ev.Action).Str("product", ev.Vars["PRODUCT"]).Msg("usb hotplug event")
		select {
		case l.events <- struct{}{}:
		default:
		}
	}
}

// Close stops receiving and releases the socket.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		err = unix.Close(l.fd)
	})
	return err
}
