package sdhx_hand

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
)

const (
	initReplyTimeout = time.Second
	haltReplyTimeout = 500 * time.Millisecond
	readSlice        = 20 * time.Millisecond
	pollReadTimeout  = time.Millisecond
)

var errReplyTimeout = errors.New("no reply from controller")

// serialPort is the part of serial.Port the SDHx link needs.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type portOpener func(name string, baudRate int) (serialPort, error)

func openSerialPort(name string, baudRate int) (serialPort, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

// sdhxLink speaks the SDHx framed protocol over a serial port.
type sdhxLink struct {
	logger logging.Logger
	open   portOpener

	mu          sync.Mutex
	port        serialPort
	initialized bool
	rc          uint16
	last        JointValues
	decoder     frameDecoder
	readBuf     []byte
}

func newSDHxLink(logger logging.Logger) *sdhxLink {
	return newSDHxLinkWithOpener(logger, openSerialPort)
}

func newSDHxLinkWithOpener(logger logging.Logger, open portOpener) *sdhxLink {
	return &sdhxLink{
		logger:  logger,
		open:    open,
		readBuf: make([]byte, 256),
	}
}

func (l *sdhxLink) Init(ctx context.Context, params LinkParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil {
		return ErrLinkExists
	}

	port, err := l.open(params.Port, params.BaudRate)
	if err != nil {
		return err
	}
	if err := port.ResetInputBuffer(); err != nil {
		l.logger.Debugf("could not reset input buffer of %s: %v", params.Port, err)
	}
	l.port = port
	l.decoder.reset()

	if err := l.writeLocked(instInit, encodeInitParams(params)); err != nil {
		l.closeLocked()
		return err
	}
	reply, err := l.awaitLocked(ctx, initReplyTimeout, isAck)
	if err != nil {
		l.closeLocked()
		return errors.Wrap(err, "initializing controller")
	}
	if reply.code != 0 {
		l.closeLocked()
		return errors.Wrapf(ErrControllerRefused, "init returned error 0x%02x", reply.code)
	}

	l.initialized = true
	l.rc = 0
	l.logger.Infof("SDHx controller initialized on %s@%d", params.Port, params.BaudRate)
	return nil
}

func (l *sdhxLink) IsInitialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

func (l *sdhxLink) Move(cmd JointValues) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		return ErrLinkNotReady
	}
	return l.writeLocked(instMove, encodeJointValues(cmd))
}

func (l *sdhxLink) Poll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil
	}
	if err := l.port.SetReadTimeout(pollReadTimeout); err != nil {
		return err
	}
	n, err := l.port.Read(l.readBuf)
	if err != nil {
		return errors.Wrap(err, "polling controller")
	}
	l.decoder.feed(l.readBuf[:n])
	for {
		f, ok := l.decoder.next()
		if !ok {
			return nil
		}
		if f.id == controllerID && isDataReply(f) {
			l.absorbLocked(f)
		}
	}
}

func (l *sdhxLink) Telemetry(timeout time.Duration) (JointValues, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		return l.last, ErrLinkNotReady
	}
	if err := l.writeLocked(instGetData, nil); err != nil {
		return l.last, err
	}
	if _, err := l.awaitLocked(context.Background(), timeout, isDataReply); err != nil {
		if errors.Is(err, errReplyTimeout) {
			return l.last, ErrTelemetryTimeout
		}
		return l.last, err
	}
	return l.last, nil
}

// DroppedBytes counts bytes discarded while looking for frames since the port
// was opened.
func (l *sdhxLink) DroppedBytes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decoder.dropped
}

func (l *sdhxLink) ErrorCode() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rc
}

func (l *sdhxLink) Halt() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return ErrNoLink
	}
	if !l.initialized {
		return ErrLinkNotReady
	}
	if err := l.writeLocked(instHalt, nil); err != nil {
		return err
	}
	reply, err := l.awaitLocked(context.Background(), haltReplyTimeout, isAck)
	if err != nil {
		return errors.Wrap(err, "halting controller")
	}
	if reply.code != 0 {
		return errors.Wrapf(ErrControllerRefused, "halt returned error 0x%02x", reply.code)
	}
	return nil
}

func (l *sdhxLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *sdhxLink) closeLocked() error {
	l.initialized = false
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *sdhxLink) writeLocked(inst byte, params []byte) error {
	if l.port == nil {
		return ErrNoLink
	}
	if _, err := l.port.Write(encodeFrame(controllerID, inst, params)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// awaitLocked reads until a frame matching want arrives. Data replies seen on
// the way always update the cached telemetry.
func (l *sdhxLink) awaitLocked(ctx context.Context, timeout time.Duration, want func(frame) bool) (frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		for {
			f, ok := l.decoder.next()
			if !ok {
				break
			}
			if f.id != controllerID {
				continue
			}
			if isDataReply(f) {
				l.absorbLocked(f)
			}
			if want(f) {
				return f, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return frame{}, errReplyTimeout
		}
		if err := ctx.Err(); err != nil {
			return frame{}, err
		}
		if err := l.port.SetReadTimeout(min(remaining, readSlice)); err != nil {
			return frame{}, err
		}
		n, err := l.port.Read(l.readBuf)
		if err != nil {
			return frame{}, errors.Wrap(err, "reading from controller")
		}
		l.decoder.feed(l.readBuf[:n])
	}
}

func (l *sdhxLink) absorbLocked(f frame) {
	rc, values, err := decodeDataReply(f.params)
	if err != nil {
		l.logger.Debugf("dropping malformed data reply: %v", err)
		return
	}
	l.rc = rc
	l.last = values
}

func isAck(f frame) bool {
	return len(f.params) == 0
}

func isDataReply(f frame) bool {
	return len(f.params) == dataReplyLen
}

// Probe opens the port, asks for one telemetry sample and closes it again. It
// leaves the controller uninitialized.
func (l *sdhxLink) Probe(ctx context.Context, port string, baudRate int, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil {
		return ErrLinkExists
	}
	p, err := l.open(port, baudRate)
	if err != nil {
		return err
	}
	l.port = p
	l.decoder.reset()
	defer l.closeLocked()

	if err := l.writeLocked(instGetData, nil); err != nil {
		return err
	}
	if _, err := l.awaitLocked(ctx, timeout, isDataReply); err != nil {
		return errors.Wrapf(err, "probing %s", port)
	}
	return nil
}
