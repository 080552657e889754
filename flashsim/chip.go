package flashsim

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/atomic"

	"github.com/moffa90/go-flashdisk/bus"
	isync "github.com/moffa90/go-flashdisk/internal/sync"
	"github.com/moffa90/go-flashdisk/protocol"
)

// Config describes the emulated part.
type Config struct {
	// Kind is bus.KindSPI (default) or bus.KindQSPI
	Kind bus.Kind

	// Size is the capacity in bytes (default 1 MiB)
	Size int

	// ID is returned by READID, one byte per clocked byte
	ID []byte

	// AddrSize is the address width used to decode single-line headers (default 3)
	AddrSize int

	// SectorSize is the SECTOR_ERASE granularity in bytes (default 4096)
	SectorSize int

	// BlockSize is the BLOCK_ERASE granularity in bytes (default 65536)
	BlockSize int

	// BusyPolls is the number of status reads reporting WIP after each
	// program or erase
	BusyPolls int

	// MaxTransfer caps the bytes moved per TxData/RxData call; 0 is unlimited
	MaxTransfer int
}

func (c *Config) setDefaults() {
	if c.Size <= 0 {
		c.Size = 1 << 20
	}
	if c.AddrSize <= 0 {
		c.AddrSize = 3
	}
	if c.SectorSize <= 0 {
		c.SectorSize = 4096
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 64 * 1024
	}
	if c.ID == nil {
		c.ID = []byte{0xEF, 0x40, 0x14}
	}
}

// Command is one completed transaction as seen by the chip.
type Command struct {
	// DevNo is the device select the transaction was addressed to
	DevNo int

	// Opcode is the command byte
	Opcode byte

	// Addr is the decoded address, valid when HasAddr is set
	Addr    uint32
	HasAddr bool

	// Header is the raw opcode and address bytes as clocked in on a
	// single-line transport; nil for quad-framed commands
	Header []byte

	// DataLen is the number of data-phase bytes moved
	DataLen int

	// DummyCycles is the dummy count of a quad-framed command
	DummyCycles int

	// Quad is set when the command arrived through SendCmd
	Quad bool
}

// Stats counts bus activity. All counters are safe to read concurrently.
type Stats struct {
	Transactions atomic.Int64
	TxCalls      atomic.Int64
	RxCalls      atomic.Int64
	StatusReads  atomic.Int64
	IDReads      atomic.Int64
	Programs     atomic.Int64
	Erases       atomic.Int64
	Ignored      atomic.Int64
}

func (s *Stats) reset() {
	for _, v := range []*atomic.Int64{
		&s.Transactions, &s.TxCalls, &s.RxCalls, &s.StatusReads,
		&s.IDReads, &s.Programs, &s.Erases, &s.Ignored,
	} {
		v.Store(0)
	}
}

// Chip is an in-memory serial NOR flash behind a bus.Transport. It implements
// bus.Transport, bus.WriteReader and bus.QuadFramer.
//
// Commands take effect when the transaction is closed, the way a real part
// latches them on chip-select release. Program and erase need the write
// enable latch, which they clear.
type Chip struct {
	Stats Stats

	mu   isync.Mutex
	cfg  Config
	mem  []byte
	path string

	wel     bool
	busy    int
	memKiB  uint64
	stallTx bool
	stallRx bool

	open   bool
	devNo  int
	header []byte
	cmd    *Command
	data   []byte
	pos    int

	log []Command
}

var (
	_ bus.Transport   = (*Chip)(nil)
	_ bus.WriteReader = (*Chip)(nil)
	_ bus.QuadFramer  = (*Chip)(nil)
)

// ErrNoTransaction is returned by data calls made outside Start/Stop.
var ErrNoTransaction = errors.New("flashsim: no transaction in progress")

// New returns an erased chip.
func New(cfg Config) *Chip {
	cfg.setDefaults()

	mem := make([]byte, cfg.Size)
	for i := range mem {
		mem[i] = 0xFF
	}

	return &Chip{cfg: cfg, mem: mem}
}

// Open returns a chip backed by the image at path. A missing file yields an
// erased chip; a shorter file is padded with 0xFF. Save writes the image back.
func Open(path string, cfg Config) (*Chip, error) {
	c := New(cfg)
	c.path = path

	img, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(img) > len(c.mem) {
		return nil, fmt.Errorf("image %s is %d bytes, chip holds %d", path, len(img), len(c.mem))
	}
	copy(c.mem, img)

	return c, nil
}

// Save writes the memory image to the file given to Open.
func (c *Chip) Save() error {
	if c.path == "" {
		return errors.New("flashsim: chip has no backing file")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return os.WriteFile(c.path, c.mem, 0o644)
}

// Size returns the capacity in bytes.
func (c *Chip) Size() int {
	return c.cfg.Size
}

// Memory returns a copy of the memory image.
func (c *Chip) Memory() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]byte, len(c.mem))
	copy(out, c.mem)
	return out
}

// Load copies p into memory at off, bypassing NOR program semantics.
func (c *Chip) Load(off int, p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.mem[off:], p)
}

// Log returns the commands completed so far.
func (c *Chip) Log() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Command, len(c.log))
	copy(out, c.log)
	return out
}

// ResetLog clears the command log and the counters.
func (c *Chip) ResetLog() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log = nil
	c.Stats.reset()
}

// SetBusy makes the next n status reads report WIP. A negative n keeps the
// chip busy until SetBusy is called again.
func (c *Chip) SetBusy(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = n
}

// SetStall makes data-phase transfers of read and program commands move zero
// bytes. Status and identification traffic is unaffected.
func (c *Chip) SetStall(tx, rx bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stallTx = tx
	c.stallRx = rx
}

// MemSizeKiB returns the capacity last passed to SetMemSize.
func (c *Chip) MemSizeKiB() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memKiB
}

// WriteEnabled reports the state of the write enable latch.
func (c *Chip) WriteEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wel
}

// Type implements bus.Transport.
func (c *Chip) Type() bus.Kind {
	return c.cfg.Kind
}

// StartRx implements bus.Transport.
func (c *Chip) StartRx(devNo int) error {
	return c.start(devNo)
}

// StartTx implements bus.Transport.
func (c *Chip) StartTx(devNo int) error {
	return c.start(devNo)
}

// StopRx implements bus.Transport.
func (c *Chip) StopRx() {
	c.stop()
}

// StopTx implements bus.Transport.
func (c *Chip) StopTx() {
	c.stop()
}

// TxData implements bus.Transport.
func (c *Chip) TxData(p []byte) (int, error) {
	c.Stats.TxCalls.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return 0, ErrNoTransaction
	}
	if c.cmd != nil && c.stallTx && isProgram(c.cmd.Opcode) {
		return 0, nil
	}

	n := c.limit(len(p))
	c.clockIn(p[:n])
	return n, nil
}

// RxData implements bus.Transport.
func (c *Chip) RxData(p []byte) (int, error) {
	c.Stats.RxCalls.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return 0, ErrNoTransaction
	}
	if c.cmd != nil && c.stallRx && isRead(c.cmd.Opcode) {
		return 0, nil
	}

	n := c.limit(len(p))
	c.clockOut(p[:n])
	return n, nil
}

// Tx implements bus.Transport. The whole frame is accepted in one call.
func (c *Chip) Tx(devNo int, p []byte) (int, error) {
	if err := c.start(devNo); err != nil {
		return 0, err
	}
	defer c.stop()

	c.Stats.TxCalls.Inc()

	c.mu.Lock()
	c.clockIn(p)
	c.mu.Unlock()

	return len(p), nil
}

// Read implements bus.WriteReader. Both phases complete in one call.
func (c *Chip) Read(devNo int, cmd, p []byte) (int, error) {
	if err := c.start(devNo); err != nil {
		return 0, err
	}
	defer c.stop()

	c.Stats.TxCalls.Inc()
	c.Stats.RxCalls.Inc()

	c.mu.Lock()
	c.clockIn(cmd)
	c.clockOut(p)
	c.mu.Unlock()

	return len(p), nil
}

// SetMemSize implements bus.QuadFramer.
func (c *Chip) SetMemSize(totalKiB uint64) error {
	if totalKiB == 0 || totalKiB*1024 > uint64(c.cfg.Size) {
		return fmt.Errorf("flashsim: memory size %d KiB does not fit %d byte chip", totalKiB, c.cfg.Size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.memKiB = totalKiB
	return nil
}

// SendCmd implements bus.QuadFramer. It must be called inside a transaction.
func (c *Chip) SendCmd(opcode byte, addr uint32, addrLen, dataLen, dummyCycles int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return ErrNoTransaction
	}
	if c.cmd != nil || len(c.header) > 0 {
		return fmt.Errorf("flashsim: command 0x%02X sent twice in one transaction", opcode)
	}

	c.cmd = &Command{
		DevNo:       c.devNo,
		Opcode:      opcode,
		Addr:        addr,
		HasAddr:     addrLen > 0,
		DummyCycles: dummyCycles,
		Quad:        true,
	}
	c.begin()
	return nil
}

func (c *Chip) start(devNo int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return fmt.Errorf("flashsim: transaction already open for device %d", c.devNo)
	}

	c.Stats.Transactions.Inc()
	c.open = true
	c.devNo = devNo
	c.header = c.header[:0]
	c.cmd = nil
	c.data = c.data[:0]
	c.pos = 0
	return nil
}

func (c *Chip) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return
	}
	c.open = false

	if c.cmd == nil {
		return
	}
	c.commit()
	c.log = append(c.log, *c.cmd)
	c.cmd = nil
}

func (c *Chip) limit(n int) int {
	if c.cfg.MaxTransfer > 0 && n > c.cfg.MaxTransfer {
		return c.cfg.MaxTransfer
	}
	return n
}

// clockIn feeds host-to-chip bytes: header bytes until the command is
// decoded, program data afterwards.
func (c *Chip) clockIn(p []byte) {
	for len(p) > 0 {
		if c.cmd != nil {
			c.data = append(c.data, p...)
			c.cmd.DataLen += len(p)
			return
		}

		c.header = append(c.header, p[0])
		p = p[1:]

		if len(c.header) == protocol.HeaderSize(c.header[0], c.cfg.AddrSize) {
			c.decodeHeader()
		}
	}
}

func (c *Chip) decodeHeader() {
	cmd := &Command{
		DevNo:  c.devNo,
		Opcode: c.header[0],
		Header: append([]byte(nil), c.header...),
	}
	if len(c.header) > 1 {
		cmd.HasAddr = true
		for _, b := range c.header[1:] {
			cmd.Addr = cmd.Addr<<8 | uint32(b)
		}
	}
	c.cmd = cmd
	c.begin()
}

// begin runs the side effects of a freshly decoded command.
func (c *Chip) begin() {
	switch c.cmd.Opcode {
	case protocol.CmdReadStatus:
		c.Stats.StatusReads.Inc()
	case protocol.CmdReadID:
		c.Stats.IDReads.Inc()
	}
}

// clockOut fills p with chip-to-host bytes for the current command.
func (c *Chip) clockOut(p []byte) {
	if c.cmd == nil {
		fill(p, 0xFF)
		return
	}

	switch op := c.cmd.Opcode; {
	case op == protocol.CmdReadStatus:
		fill(p, c.status())
		if c.busy > 0 {
			c.busy--
		}
	case op == protocol.CmdReadID:
		for i := range p {
			if c.pos < len(c.cfg.ID) {
				p[i] = c.cfg.ID[c.pos]
			} else {
				p[i] = 0xFF
			}
			c.pos++
		}
	case isRead(op):
		for i := range p {
			p[i] = c.byteAt(int(c.cmd.Addr) + c.pos)
			c.pos++
		}
	default:
		fill(p, 0xFF)
	}
	c.cmd.DataLen += len(p)
}

func (c *Chip) status() byte {
	var s byte
	if c.busy != 0 {
		s |= protocol.StatusWIP
	}
	if c.wel {
		s |= protocol.StatusWEL
	}
	return s
}

func (c *Chip) byteAt(off int) byte {
	return c.mem[off%len(c.mem)]
}

// commit applies the command when chip select is released.
func (c *Chip) commit() {
	op := c.cmd.Opcode

	switch {
	case op == protocol.CmdWriteEnable:
		if c.busy == 0 {
			c.wel = true
		}
		return
	case op == protocol.CmdWriteDisable:
		c.wel = false
		return
	case op != protocol.CmdBulkErase && op != protocol.CmdSectorErase &&
		op != protocol.CmdBlockErase && !isProgram(op):
		return
	}

	if !c.wel || c.busy != 0 {
		c.Stats.Ignored.Inc()
		return
	}
	c.wel = false

	switch op {
	case protocol.CmdBulkErase:
		c.erase(0, len(c.mem))
	case protocol.CmdSectorErase:
		c.erase(int(c.cmd.Addr), c.cfg.SectorSize)
	case protocol.CmdBlockErase:
		c.erase(int(c.cmd.Addr), c.cfg.BlockSize)
	default:
		c.Stats.Programs.Inc()
		base := int(c.cmd.Addr)
		for i, b := range c.data {
			c.mem[(base+i)%len(c.mem)] &= b
		}
	}

	c.busy = c.cfg.BusyPolls
}

func (c *Chip) erase(addr, size int) {
	c.Stats.Erases.Inc()

	start := addr - addr%size
	if start >= len(c.mem) {
		return
	}
	end := start + size
	if end > len(c.mem) {
		end = len(c.mem)
	}
	fill(c.mem[start:end], 0xFF)
}

func isRead(op byte) bool {
	switch op {
	case protocol.CmdRead, protocol.CmdFastRead, protocol.CmdQuadOutputRead, protocol.CmdQuadIORead:
		return true
	}
	return false
}

func isProgram(op byte) bool {
	return op == protocol.CmdWrite || op == protocol.CmdQuadPageProgram
}

func fill(p []byte, b byte) {
	for i := range p {
		p[i] = b
	}
}
