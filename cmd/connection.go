// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/cellwatch/internal/config"
	"github.com/Thermoquad/cellwatch/pkg/acquire"
	"github.com/Thermoquad/cellwatch/pkg/blelink"
	"github.com/Thermoquad/cellwatch/pkg/profile"
)

// bridgeQueue is the number of chunks buffered per bridge
const bridgeQueue = 64

// ErrConnectionClosed is returned when writing to a closed bridge
var ErrConnectionClosed = errors.New("bridge connection closed")

// errBridgeChar is returned for writes a bridge cannot route
var errBridgeChar = errors.New("bridge only forwards to the profile write characteristic")

// bridge adapts a BLE-UART bridge to acquire.Transport. Every read
// becomes one chunk; writes go to the device's write characteristic.
type bridge struct {
	write  uint16
	log    logrus.FieldLogger
	recv   func() ([]byte, error)
	send   func([]byte) error
	closer io.Closer

	chunks chan []byte
	done   chan struct{}
	once   sync.Once
	sendMu sync.Mutex
}

func newBridge(p profile.Profile, log logrus.FieldLogger, recv func() ([]byte, error), send func([]byte) error, closer io.Closer) *bridge {
	b := &bridge{
		write:  p.Channels().Write,
		log:    log,
		recv:   recv,
		send:   send,
		closer: closer,
		chunks: make(chan []byte, bridgeQueue),
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *bridge) readLoop() {
	defer close(b.chunks)
	for {
		data, err := b.recv()
		if err != nil {
			select {
			case <-b.done:
			default:
				b.log.WithError(err).Error("bridge read failed")
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case b.chunks <- data:
		case <-b.done:
			return
		}
	}
}

// Chunks implements acquire.Transport
func (b *bridge) Chunks() <-chan []byte {
	return b.chunks
}

// Write implements acquire.Transport
func (b *bridge) Write(ctx context.Context, char uint16, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.done:
		return ErrConnectionClosed
	default:
	}
	if char != b.write {
		return fmt.Errorf("%w: %04X", errBridgeChar, char)
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	return b.send(data)
}

// Close stops the reader and closes the underlying connection
func (b *bridge) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		err = b.closer.Close()
	})
	return err
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}

// serialBridge reads the port in chunks of whatever the bridge flushed
func serialBridge(rw io.ReadWriteCloser, p profile.Profile, log logrus.FieldLogger) *bridge {
	buf := make([]byte, 512)
	recv := func() ([]byte, error) {
		n, err := rw.Read(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// read timeout
			return nil, nil
		}
		return append([]byte(nil), buf[:n]...), nil
	}
	send := func(data []byte) error {
		_, err := rw.Write(data)
		return err
	}
	return newBridge(p, log, recv, send, rw)
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (*websocket.Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return conn, nil
}

// websocketBridge treats each binary message as one notification
func websocketBridge(conn *websocket.Conn, p profile.Profile, log logrus.FieldLogger) *bridge {
	recv := func() ([]byte, error) {
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return nil, err
			}
			if messageType == websocket.BinaryMessage {
				return data, nil
			}
		}
	}
	send := func(data []byte) error {
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}
	return newBridge(p, log, recv, send, conn)
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("CELLWATCH_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// Connection is an open device transport
type Connection interface {
	acquire.Transport
	io.Closer
}

// connector opens device transports, enabling the BLE adapter on first
// use
type connector struct {
	cfg *config.Config
	log logrus.FieldLogger

	mu  sync.Mutex
	ble *blelink.Adapter

	// readPassword is called until it succeeds once
	readPassword func() (string, error)
	pwMu         sync.Mutex
	password     *string
}

func newConnector(cfg *config.Config, log logrus.FieldLogger) *connector {
	return &connector{cfg: cfg, log: log, readPassword: GetPassword}
}

// credentials returns the bridge password, reading it on first use so
// reconnects never prompt again
func (c *connector) credentials() (string, error) {
	c.pwMu.Lock()
	defer c.pwMu.Unlock()
	if c.password != nil {
		return *c.password, nil
	}
	pw, err := c.readPassword()
	if err != nil {
		return "", err
	}
	c.password = &pw
	return pw, nil
}

// adapter enables the host adapter, bounded by ble.adapter_timeout
func (c *connector) adapter() (*blelink.Adapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ble != nil {
		return c.ble, nil
	}

	type result struct {
		a   *blelink.Adapter
		err error
	}
	done := make(chan result, 1)
	go func() {
		a, err := blelink.NewAdapter(c.log)
		done <- result{a, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		c.ble = r.a
		return c.ble, nil
	case <-time.After(c.cfg.BLE.AdapterTimeout):
		return nil, fmt.Errorf("enable adapter: no response after %v", c.cfg.BLE.AdapterTimeout)
	}
}

// Open connects to d and returns the transport with a description
func (c *connector) Open(ctx context.Context, d config.DeviceConfig, p profile.Profile) (Connection, string, error) {
	log := c.log.WithFields(logrus.Fields{"device": d.Name, "transport": d.Transport.Kind})

	switch d.Transport.Kind {
	case config.TransportWebSocket:
		password := ""
		if d.Transport.Username != "" {
			var err error
			password, err = c.credentials()
			if err != nil {
				return nil, "", err
			}
		}
		conn, err := OpenWebSocketConnection(ctx, d.Transport.URL, d.Transport.Username, password, d.Transport.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return websocketBridge(conn, p, log), fmt.Sprintf("WebSocket: %s", d.Transport.URL), nil

	case config.TransportSerial:
		port, err := OpenSerialConnection(d.Transport.Port, d.Transport.Baud)
		if err != nil {
			return nil, "", err
		}
		return serialBridge(port, p, log), fmt.Sprintf("Serial: %s @ %d baud", d.Transport.Port, d.Transport.Baud), nil

	case config.TransportBLE:
		a, err := c.adapter()
		if err != nil {
			return nil, "", err
		}
		ctx, cancel := context.WithTimeout(ctx, c.cfg.BLE.ScanTimeout)
		defer cancel()
		link, err := a.Connect(ctx, d.Address, p)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("BLE: %s", d.Address), nil
	}
	return nil, "", fmt.Errorf("unknown transport %q", d.Transport.Kind)
}

// Close releases the BLE adapter, if it was enabled
func (c *connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ble == nil {
		return nil
	}
	return c.ble.Close()
}
