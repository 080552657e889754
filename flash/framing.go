package flash

import (
	"github.com/moffa90/go-flashdisk/bus"
	"github.com/moffa90/go-flashdisk/protocol"
)

// framing puts flash commands on the wire. One implementation is chosen at
// Open from the transport kind.
type framing interface {
	readID(p []byte) (int, error)
	readStatus() (byte, error)

	// command sends an opcode with no address and no data.
	command(opcode byte) error

	// erase sends an erase opcode with an address.
	erase(opcode byte, addr uint32) error

	readSector(addr uint32, p []byte) error
	writeSector(addr uint32, p []byte) error
}

// standardFraming clocks opcode, big-endian address and data as separate
// transfers over a single-line transport.
type standardFraming struct {
	d *Device
}

func (s standardFraming) readID(p []byte) (int, error) {
	return bus.Read(s.d.t, s.d.cfg.DevNo, []byte{protocol.CmdReadID}, p)
}

func (s standardFraming) readStatus() (byte, error) {
	t := s.d.t
	if err := t.StartRx(s.d.cfg.DevNo); err != nil {
		return 0, err
	}
	defer t.StopRx()

	if _, err := t.TxData([]byte{protocol.CmdReadStatus}); err != nil {
		return 0, err
	}

	var st [1]byte
	n, err := t.RxData(st[:])
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, bus.ErrStalled
	}
	return st[0], nil
}

func (s standardFraming) command(opcode byte) error {
	_, err := s.d.t.Tx(s.d.cfg.DevNo, []byte{opcode})
	return err
}

func (s standardFraming) erase(opcode byte, addr uint32) error {
	var buf [protocol.MaxHeaderSize]byte
	hdr, err := protocol.AppendCommand(buf[:0], opcode, addr, s.d.cfg.AddrSize)
	if err != nil {
		return err
	}

	_, err = s.d.t.Tx(s.d.cfg.DevNo, hdr)
	return err
}

func (s standardFraming) readSector(addr uint32, p []byte) error {
	var buf [protocol.MaxHeaderSize]byte
	done := 0

	for done < len(p) {
		hdr, err := protocol.AppendCommand(buf[:0], protocol.CmdRead, addr, s.d.cfg.AddrSize)
		if err != nil {
			return err
		}

		n, err := s.readChunk(hdr, p[done:])
		if err != nil || n <= 0 {
			return &TransferError{Op: "read", Addr: addr, Done: done, Err: err}
		}

		done += n
		addr += uint32(n)
	}

	return nil
}

// readChunk runs one read transaction and returns what RxData delivered.
func (s standardFraming) readChunk(hdr, p []byte) (int, error) {
	t := s.d.t
	if err := t.StartRx(s.d.cfg.DevNo); err != nil {
		return 0, err
	}
	defer t.StopRx()

	if n, err := t.TxData(hdr); err != nil {
		return 0, err
	} else if n < len(hdr) {
		return 0, bus.ErrStalled
	}
	return t.RxData(p)
}

func (s standardFraming) writeSector(addr uint32, p []byte) error {
	var buf [protocol.MaxHeaderSize]byte
	done := 0

	for done < len(p) {
		hdr, err := protocol.AppendCommand(buf[:0], protocol.CmdWrite, addr, s.d.cfg.AddrSize)
		if err != nil {
			return err
		}
		l := min(len(p)-done, s.d.cfg.WriteSize)

		// Best-effort wait; the part may clear WEL when a short page
		// completes, so it is set again for every chunk.
		_ = s.d.WaitReady(WaitForever, 0)
		_ = s.d.WriteEnable(WaitForever)

		n, err := bus.Write(s.d.t, s.d.cfg.DevNo, hdr, p[done:done+l])
		if err != nil || n <= 0 {
			return &TransferError{Op: "program", Addr: addr, Done: done, Err: err}
		}

		done += n
		addr += uint32(n)
	}

	return nil
}

// quadFraming sends every command as one framed instruction through the
// transport's QuadFramer.
type quadFraming struct {
	d *Device
	q bus.QuadFramer
}

// rx frames opcode with no address and receives into p.
func (f quadFraming) rx(opcode byte, p []byte) (int, error) {
	t := f.d.t
	if err := t.StartRx(f.d.cfg.DevNo); err != nil {
		return 0, err
	}
	defer t.StopRx()

	if err := f.q.SendCmd(opcode, 0, 0, len(p), 0); err != nil {
		return 0, err
	}
	return t.RxData(p)
}

// tx frames opcode with an optional address and no data phase.
func (f quadFraming) tx(opcode byte, addr uint32, addrLen int) error {
	t := f.d.t
	if err := t.StartTx(f.d.cfg.DevNo); err != nil {
		return err
	}
	defer t.StopTx()

	return f.q.SendCmd(opcode, addr, addrLen, 0, 0)
}

func (f quadFraming) readID(p []byte) (int, error) {
	return f.rx(protocol.CmdReadID, p)
}

func (f quadFraming) readStatus() (byte, error) {
	var st [1]byte
	n, err := f.rx(protocol.CmdReadStatus, st[:])
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, bus.ErrStalled
	}
	return st[0], nil
}

func (f quadFraming) command(opcode byte) error {
	return f.tx(opcode, 0, 0)
}

func (f quadFraming) erase(opcode byte, addr uint32) error {
	return f.tx(opcode, addr, f.d.cfg.AddrSize)
}

// readSector frames the whole sector as one instruction. RxData is repeated
// inside the transaction until the sector is in or the bus stalls.
func (f quadFraming) readSector(addr uint32, p []byte) error {
	t := f.d.t
	if err := t.StartRx(f.d.cfg.DevNo); err != nil {
		return &TransferError{Op: "read", Addr: addr, Err: err}
	}
	defer t.StopRx()

	rd := f.d.cfg.RdCmd
	if err := f.q.SendCmd(rd.Opcode, addr, f.d.cfg.AddrSize, len(p), rd.DummyCycles); err != nil {
		return &TransferError{Op: "read", Addr: addr, Err: err}
	}

	done := 0
	for done < len(p) {
		n, err := t.RxData(p[done:])
		if err != nil || n <= 0 {
			return &TransferError{Op: "read", Addr: addr + uint32(done), Done: done, Err: err}
		}
		done += n
	}

	return nil
}

// writeSector programs one chunk per instruction. Unlike the single-line
// path it does not wait for ready before each chunk; WriteEnable does that.
func (f quadFraming) writeSector(addr uint32, p []byte) error {
	t := f.d.t
	wr := f.d.cfg.WrCmd
	done := 0

	for done < len(p) {
		l := min(len(p)-done, f.d.cfg.WriteSize)

		_ = f.d.WriteEnable(WaitForever)

		n, err := f.program(t, wr, addr, p[done:done+l])
		if err != nil || n <= 0 {
			return &TransferError{Op: "program", Addr: addr, Done: done, Err: err}
		}

		done += n
		addr += uint32(n)
	}

	return nil
}

func (f quadFraming) program(t bus.Transport, wr protocol.Command, addr uint32, p []byte) (int, error) {
	if err := t.StartTx(f.d.cfg.DevNo); err != nil {
		return 0, err
	}
	defer t.StopTx()

	if err := f.q.SendCmd(wr.Opcode, addr, f.d.cfg.AddrSize, len(p), wr.DummyCycles); err != nil {
		return 0, err
	}
	return t.TxData(p)
}
