// Copyright 2024-2026 Aiku AI

package minecraft

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	packetLogin    int32 = 3
	packetCommand  int32 = 2
	packetResponse int32 = 0

	// maxCommandLength is the largest request body the server accepts.
	maxCommandLength = 1446
	// maxPacketLength bounds what we are willing to read for one response.
	maxPacketLength = 4096 + 10
)

var (
	// ErrAuthFailed means the server rejected the RCON password.
	ErrAuthFailed = errors.New("rcon authentication failed")
	// ErrCommandTooLong is returned for commands the server would reject.
	ErrCommandTooLong = errors.New("rcon command too long")
	// ErrRequestIDMismatch means a response did not answer our request.
	ErrRequestIDMismatch = errors.New("rcon response id mismatch")
)

// RCON is a connection to a Minecraft server's remote console. It is not
// safe for concurrent use; the server adapter only touches it from its
// execution goroutine.
type RCON struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	nextID  int32
}

// DialRCON connects to addr and logs in with password.
func DialRCON(ctx context.Context, addr, password string, timeout time.Duration) (*RCON, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rcon at %s: %w", addr, err)
	}
	rc := &RCON{conn: conn, reader: bufio.NewReader(conn), timeout: timeout}
	if err := rc.login(password); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return rc, nil
}

func (rc *RCON) login(password string) error {
	id, err := rc.send(packetLogin, password)
	if err != nil {
		return fmt.Errorf("failed to send rcon login: %w", err)
	}
	respID, _, _, err := rc.read()
	if err != nil {
		return fmt.Errorf("failed to read rcon login response: %w", err)
	}
	if respID == -1 {
		return ErrAuthFailed
	} else if respID != id {
		return ErrRequestIDMismatch
	}
	return nil
}

// Command runs cmd and returns the server's reply.
func (rc *RCON) Command(cmd string) (string, error) {
	if len(cmd) > maxCommandLength {
		return "", fmt.Errorf("%w: %d bytes", ErrCommandTooLong, len(cmd))
	}
	id, err := rc.send(packetCommand, cmd)
	if err != nil {
		return "", fmt.Errorf("failed to send rcon command: %w", err)
	}
	respID, typ, body, err := rc.read()
	if err != nil {
		return "", fmt.Errorf("failed to read rcon response: %w", err)
	}
	if respID != id || typ != packetResponse {
		return "", ErrRequestIDMismatch
	}
	return body, nil
}

// Close closes the connection.
func (rc *RCON) Close() error {
	return rc.conn.Close()
}

func (rc *RCON) send(typ int32, body string) (int32, error) {
	rc.nextID++
	id := rc.nextID
	if err := rc.conn.SetWriteDeadline(time.Now().Add(rc.timeout)); err != nil {
		return 0, err
	}
	_, err := rc.conn.Write(encodePacket(id, typ, body))
	return id, err
}

func (rc *RCON) read() (id, typ int32, body string, err error) {
	if err = rc.conn.SetReadDeadline(time.Now().Add(rc.timeout)); err != nil {
		return
	}
	return decodePacket(rc.reader)
}

// encodePacket frames a packet: little-endian length, request ID and type,
// then the body and two NUL terminators.
func encodePacket(id, typ int32, body string) []byte {
	var buf bytes.Buffer
	length := int32(4 + 4 + len(body) + 2)
	_ = binary.Write(&buf, binary.LittleEndian, length)
	_ = binary.Write(&buf, binary.LittleEndian, id)
	_ = binary.Write(&buf, binary.LittleEndian, typ)
	buf.WriteString(body)
	buf.Write([]byte{0, 0})
	return buf.Bytes()
}

func decodePacket(r io.Reader) (id, typ int32, body string, err error) {
	var length int32
	if err = binary.Read(r, binary.LittleEndian, &length); err != nil {
		return
	}
	if length < 10 || length > maxPacketLength {
		err = fmt.Errorf("invalid rcon packet length %d", length)
		return
	}
	payload := make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return
	}
	id = int32(binary.LittleEndian.Uint32(payload[0:4]))
	typ = int32(binary.LittleEndian.Uint32(payload[4:8]))
	body = string(payload[8 : length-2])
	return
}
