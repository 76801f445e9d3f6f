// Package rsp is the client side of the GDB remote serial protocol, i386
// flavor, as spoken by emulator debug stubs. It never retries and never
// reconnects; callers own recovery policy.
package rsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lunixbochs/struc"

	"github.com/doscope/doscope/go/models"
)

const (
	// DefaultRecvTimeout bounds the wait for any single reply packet.
	DefaultRecvTimeout = 10 * time.Second
	// ChunkSize splits memory transfers so no reply overflows the
	// stub's packet buffer.
	ChunkSize = 4096
)

func escape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, c := range p {
		if c == '#' || c == '$' || c == '}' {
			out = append(out, '}', c^0x20)
		} else {
			out = append(out, c)
		}
	}
	return out
}

func unescape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '}' && i+1 < len(p) {
			i++
			out = append(out, p[i]^0x20)
		} else {
			out = append(out, p[i])
		}
	}
	return out
}

// rleDecode expands "c*R" runs: R encodes (R - 29) extra copies of c.
func rleDecode(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '*' && i+1 < len(p) && len(out) > 0 {
			i++
			n := int(p[i]) - 29
			last := out[len(out)-1]
			for j := 0; j < n; j++ {
				out = append(out, last)
			}
		} else {
			out = append(out, p[i])
		}
	}
	return out
}

func checksum(p []byte) []byte {
	chk := 0
	for _, c := range p {
		chk = (chk + int(c)) % 256
	}
	return []byte(fmt.Sprintf("%02x", chk))
}

type Client struct {
	conn net.Conn
	r    *bufio.Reader

	// one command/reply exchange on the wire at a time
	mu sync.Mutex

	recvTimeout time.Duration
	closeOnce   sync.Once
}

// Dial connects to a debug stub's TCP port.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, models.Connectionf(err, "rsp dial %s", addr)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:        conn,
		r:           bufio.NewReader(conn),
		recvTimeout: DefaultRecvTimeout,
	}
}

// SetRecvTimeout overrides the per-reply deadline.
func (c *Client) SetRecvTimeout(d time.Duration) {
	if d > 0 {
		c.recvTimeout = d
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Client) sendPacket(payload []byte) error {
	data := escape(payload)
	frame := make([]byte, 0, len(data)+4)
	frame = append(frame, '$')
	frame = append(frame, data...)
	frame = append(frame, '#')
	frame = append(frame, checksum(data)...)
	if _, err := c.conn.Write(frame); err != nil {
		return models.Connectionf(err, "rsp write")
	}
	return nil
}

// drainAcks eats stale ack bytes left over from earlier exchanges.
// Only already-buffered bytes are considered, so a quiet wire costs
// nothing; acks still in the kernel buffer are skipped by recvPacket.
func (c *Client) drainAcks() {
	for c.r.Buffered() > 0 {
		b, err := c.r.Peek(1)
		if err != nil {
			return
		}
		if b[0] != '+' && b[0] != '-' {
			return
		}
		c.r.Discard(1)
	}
}

// recvPacket reads the next complete $payload#xx frame, validates the
// checksum, acks it, and returns the decoded payload. Ack bytes on the
// way are skipped; a '-' from the stub is a hard protocol error.
func (c *Client) recvPacket(op string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.recvTimeout
	}
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return nil, c.readErr(op, timeout, err)
		}
		switch b {
		case '$':
		case '+':
			continue
		case '-':
			return nil, models.Protocolf(nil, "%s: stub rejected packet", op)
		default:
			// line noise between frames
			continue
		}
		break
	}

	body, err := c.r.ReadBytes('#')
	if err != nil {
		return nil, c.readErr(op, timeout, err)
	}
	body = body[:len(body)-1]
	chk := make([]byte, 2)
	if _, err := io.ReadFull(c.r, chk); err != nil {
		return nil, c.readErr(op, timeout, err)
	}
	if !bytes.Equal(checksum(body), bytes.ToLower(chk)) {
		c.conn.Write([]byte{'-'})
		return nil, models.Protocolf(nil, "%s: bad checksum %s for %q", op, chk, body)
	}
	if _, err := c.conn.Write([]byte{'+'}); err != nil {
		return nil, models.Connectionf(err, "rsp ack")
	}
	return unescape(rleDecode(body)), nil
}

func (c *Client) readErr(op string, timeout time.Duration, err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return models.Timeout("rsp "+op, timeout)
	}
	return models.Connectionf(err, "rsp read during %s", op)
}

func ctxTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < fallback {
			return d
		}
	}
	return fallback
}

// Command performs one send/reply exchange.
func (c *Client) Command(ctx context.Context, payload string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainAcks()
	if err := c.sendPacket([]byte(payload)); err != nil {
		return nil, err
	}
	op := payload
	if len(op) > 16 {
		op = op[:16]
	}
	return c.recvPacket(op, ctxTimeout(ctx, c.recvTimeout))
}

// send without waiting: continue runs until a stop packet arrives later.
func (c *Client) post(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainAcks()
	return c.sendPacket([]byte(payload))
}

func isErrReply(p []byte) bool {
	return len(p) == 3 && p[0] == 'E'
}

// MemRead fetches size bytes at the linear address, splitting the
// transfer into ChunkSize requests.
func (c *Client) MemRead(ctx context.Context, lin uint32, size int) ([]byte, error) {
	if size <= 0 {
		return nil, models.Argumentf("bad read size %d", size)
	}
	out := make([]byte, 0, size)
	for off := 0; off < size; off += ChunkSize {
		n := size - off
		if n > ChunkSize {
			n = ChunkSize
		}
		addr := lin + uint32(off)
		reply, err := c.Command(ctx, fmt.Sprintf("m%x,%x", addr, n))
		if err != nil {
			return nil, err
		}
		if isErrReply(reply) || len(reply) == 0 {
			return nil, models.Protocolf(nil, "memory read failed at %#x: %q", addr, reply)
		}
		chunk, err := hex.DecodeString(string(reply))
		if err != nil {
			return nil, models.Protocolf(err, "memory read at %#x not hex", addr)
		}
		out = append(out, chunk...)
	}
	if len(out) != size {
		return nil, models.Protocolf(nil, "short memory read: %d of %d bytes", len(out), size)
	}
	return out, nil
}

// MemWrite stores data at the linear address.
func (c *Client) MemWrite(ctx context.Context, lin uint32, data []byte) error {
	for off := 0; off < len(data); off += ChunkSize {
		end := off + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		addr := lin + uint32(off)
		reply, err := c.Command(ctx, fmt.Sprintf("M%x,%x:%s", addr, len(chunk), hex.EncodeToString(chunk)))
		if err != nil {
			return err
		}
		if !bytes.Equal(reply, []byte("OK")) {
			return models.Protocolf(nil, "memory write failed at %#x: %q", addr, reply)
		}
	}
	return nil
}

// stub register block: sixteen little-endian 32-bit words
type gdbRegs struct {
	EAX    uint32
	ECX    uint32
	EDX    uint32
	EBX    uint32
	ESP    uint32
	EBP    uint32
	ESI    uint32
	EDI    uint32
	EIP    uint32
	EFLAGS uint32
	CS     uint32
	SS     uint32
	DS     uint32
	ES     uint32
	FS     uint32
	GS     uint32
}

// Registers reads the full register block.
func (c *Client) Registers(ctx context.Context) (*models.Registers, error) {
	reply, err := c.Command(ctx, "g")
	if err != nil {
		return nil, err
	}
	if isErrReply(reply) {
		return nil, models.Protocolf(nil, "register read failed: %q", reply)
	}
	raw, err := hex.DecodeString(string(reply))
	if err != nil {
		return nil, models.Protocolf(err, "register block not hex")
	}
	if len(raw) < 64 {
		return nil, models.Protocolf(nil, "register block too short: %d bytes", len(raw))
	}
	var g gdbRegs
	if err := struc.UnpackWithOrder(bytes.NewReader(raw[:64]), &g, binary.LittleEndian); err != nil {
		return nil, models.Protocolf(err, "register block unpack")
	}
	return &models.Registers{
		EAX: g.EAX, ECX: g.ECX, EDX: g.EDX, EBX: g.EBX,
		ESP: g.ESP, EBP: g.EBP, ESI: g.ESI, EDI: g.EDI,
		EIP: g.EIP, EFLAGS: g.EFLAGS,
		CS: uint16(g.CS & 0xffff), SS: uint16(g.SS & 0xffff),
		DS: uint16(g.DS & 0xffff), ES: uint16(g.ES & 0xffff),
		FS: uint16(g.FS & 0xffff), GS: uint16(g.GS & 0xffff),
	}, nil
}

// BreakSet arms a software breakpoint at the linear address.
func (c *Client) BreakSet(ctx context.Context, lin uint32) error {
	reply, err := c.Command(ctx, fmt.Sprintf("Z0,%x,1", lin))
	if err != nil {
		return err
	}
	if len(reply) == 0 {
		return models.NotSupported("stub", "Z0 breakpoints")
	}
	if !bytes.Equal(reply, []byte("OK")) {
		return models.Protocolf(nil, "breakpoint set at %#x: %q", lin, reply)
	}
	return nil
}

// BreakClear removes the breakpoint at the linear address.
func (c *Client) BreakClear(ctx context.Context, lin uint32) error {
	reply, err := c.Command(ctx, fmt.Sprintf("z0,%x,1", lin))
	if err != nil {
		return err
	}
	if !bytes.Equal(reply, []byte("OK")) && len(reply) != 0 {
		return models.Protocolf(nil, "breakpoint clear at %#x: %q", lin, reply)
	}
	return nil
}

// Continue resumes the guest. The stop packet arrives later; collect it
// with WaitStop.
func (c *Client) Continue(ctx context.Context) error {
	return c.post("c")
}

// Step executes one instruction and waits for the stop packet.
func (c *Client) Step(ctx context.Context) (string, error) {
	reply, err := c.Command(ctx, "s")
	if err != nil {
		return "", err
	}
	return string(reply), nil
}

// Interrupt sends the raw break byte, unframed. It takes no lock so it
// can fire while WaitStop is parked on the reply side.
func (c *Client) Interrupt() error {
	if _, err := c.conn.Write([]byte{0x03}); err != nil {
		return models.Connectionf(err, "rsp interrupt")
	}
	return nil
}

// WaitStop blocks until the stub reports a stop (T or S packet).
func (c *Client) WaitStop(ctx context.Context, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, err := c.recvPacket("wait-stop", ctxTimeout(ctx, timeout))
	if err != nil {
		return "", err
	}
	if len(reply) == 0 || (reply[0] != 'T' && reply[0] != 'S' && reply[0] != 'W') {
		return "", models.Protocolf(nil, "unexpected stop packet %q", reply)
	}
	return string(reply), nil
}
