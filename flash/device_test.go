package flash

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/moffa90/go-flashdisk/bus"
	"github.com/moffa90/go-flashdisk/diskio"
	"github.com/moffa90/go-flashdisk/flashsim"
	"github.com/moffa90/go-flashdisk/protocol"
)

// plainTransport hides the optional WriteReader and QuadFramer methods of the
// wrapped transport.
type plainTransport struct {
	bus.Transport
}

// MockLogger records messages for assertions.
type MockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) {
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *MockLogger) Info(msg string, kv ...interface{}) {
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *MockLogger) Error(msg string, kv ...interface{}) {
	l.errorMsgs = append(l.errorMsgs, msg)
}

func testConfig() Config {
	return Config{
		SectSize:  4,
		BlkSize:   64,
		TotalSize: 1024,
		AddrSize:  3,
	}
}

// delayRecorder replaces the sleep between polls.
type delayRecorder struct {
	calls []time.Duration
}

func (r *delayRecorder) delay(d time.Duration) {
	r.calls = append(r.calls, d)
}

func openSim(t *testing.T, cfg Config, sim flashsim.Config, opts ...Option) (*Device, *flashsim.Chip, *delayRecorder) {
	t.Helper()

	if sim.Size == 0 {
		sim.Size = int(cfg.TotalSize) * 1024
	}
	chip := flashsim.New(sim)
	rec := &delayRecorder{}

	dev, err := Open(cfg, chip, append([]Option{WithDelayFunc(rec.delay)}, opts...)...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	chip.ResetLog()

	return dev, chip, rec
}

// opcodes lists the logged opcodes, dropping status reads when asked.
func opcodes(log []flashsim.Command, withStatus bool) []byte {
	var ops []byte
	for _, c := range log {
		if c.Opcode == protocol.CmdReadStatus && !withStatus {
			continue
		}
		ops = append(ops, c.Opcode)
	}
	return ops
}

func commandsFor(log []flashsim.Command, opcode byte) []flashsim.Command {
	var out []flashsim.Command
	for _, c := range log {
		if c.Opcode == opcode {
			out = append(out, c)
		}
	}
	return out
}

func pattern(seed byte) []byte {
	p := make([]byte, diskio.SectorSize)
	for i := range p {
		p[i] = byte(i)*7 + seed
	}
	return p
}

func TestOpenNilTransport(t *testing.T) {
	called := false
	cfg := testConfig()
	cfg.InitFunc = func(int, bus.Transport) error {
		called = true
		return nil
	}

	dev, err := Open(cfg, nil)
	if !errors.Is(err, ErrNoTransport) {
		t.Fatalf("Open(nil) err = %v, want ErrNoTransport", err)
	}
	if dev != nil {
		t.Error("Open(nil) returned a device")
	}
	if called {
		t.Error("init callback ran without a transport")
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"zero address width", func(c *Config) { c.AddrSize = 0 }, "AddrSize"},
		{"wide address", func(c *Config) { c.AddrSize = 5 }, "AddrSize"},
		{"zero sector size", func(c *Config) { c.SectSize = 0 }, "SectSize"},
		{"zero block size", func(c *Config) { c.BlkSize = 0 }, "BlkSize"},
		{"negative write size", func(c *Config) { c.WriteSize = -1 }, "WriteSize"},
		{"long ID", func(c *Config) { c.DevIDSize = 5 }, "DevIDSize"},
		{"huge capacity", func(c *Config) { c.TotalSize = 1 << 40 }, "TotalSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := flashsim.New(flashsim.Config{Size: 4096})
			cfg := testConfig()
			tt.mod(&cfg)

			_, err := Open(cfg, chip)
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %s, want %s", cerr.Field, tt.field)
			}
			if n := chip.Stats.Transactions.Load(); n != 0 {
				t.Errorf("%d transactions on invalid config", n)
			}
		})
	}
}

func TestOpenInitCallback(t *testing.T) {
	chip := flashsim.New(flashsim.Config{Size: 1 << 20})
	boom := errors.New("hold pin stuck")

	var gotDev int
	var gotT bus.Transport
	cfg := testConfig()
	cfg.DevNo = 2
	cfg.InitFunc = func(devNo int, tr bus.Transport) error {
		gotDev, gotT = devNo, tr
		return boom
	}

	_, err := Open(cfg, chip)
	if !errors.Is(err, ErrInitCallback) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrInitCallback wrapping callback error", err)
	}
	if gotDev != 2 || gotT != bus.Transport(chip) {
		t.Errorf("callback got (%d, %v)", gotDev, gotT)
	}
}

func TestOpenDefaults(t *testing.T) {
	dev, _, _ := openSim(t, testConfig(), flashsim.Config{})

	cfg := dev.Config()
	if cfg.WriteSize != diskio.SectorSize {
		t.Errorf("WriteSize = %d, want %d", cfg.WriteSize, diskio.SectorSize)
	}
	if cfg.RdCmd != protocol.DefaultReadCommand || cfg.WrCmd != protocol.DefaultWriteCommand {
		t.Errorf("commands = %v/%v", cfg.RdCmd, cfg.WrCmd)
	}
	if dev.Sectors() != 2048 {
		t.Errorf("Sectors = %d, want 2048", dev.Sectors())
	}
}

func TestOpenIDCheck(t *testing.T) {
	tests := []struct {
		name      string
		kind      bus.Kind
		devID     uint32
		wantErr   bool
		wantReads int64
	}{
		{"match", bus.KindSPI, 0x1440EF, false, 1},
		{"match quad", bus.KindQSPI, 0x1440EF, false, 1},
		{"mismatch", bus.KindSPI, 0x123456, true, 1 + IDRetries},
		{"mismatch quad", bus.KindQSPI, 0x123456, true, 1 + IDRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := flashsim.New(flashsim.Config{Kind: tt.kind, Size: 1 << 20, ID: []byte{0xEF, 0x40, 0x14}})
			logger := &MockLogger{}

			cfg := testConfig()
			cfg.DevID = tt.devID
			cfg.DevIDSize = 3

			dev, err := Open(cfg, chip, WithLogger(logger))

			if got := chip.Stats.IDReads.Load(); got != tt.wantReads {
				t.Errorf("ID reads = %d, want %d", got, tt.wantReads)
			}
			if !tt.wantErr {
				if err != nil || dev == nil {
					t.Fatalf("Open: %v", err)
				}
				return
			}

			var idErr *IDMismatchError
			if !errors.As(err, &idErr) {
				t.Fatalf("err = %v, want *IDMismatchError", err)
			}
			want := IDMismatchError{Expected: 0x123456, Actual: 0x1440EF, Attempts: 6}
			if diff := cmp.Diff(want, *idErr); diff != "" {
				t.Errorf("error mismatch (-want +got):\n%s", diff)
			}
			if dev != nil {
				t.Error("device returned on ID mismatch")
			}
			if len(logger.errorMsgs) != 1 {
				t.Errorf("error logs = %v", logger.errorMsgs)
			}
		})
	}
}

func TestOpenQuad(t *testing.T) {
	chip := flashsim.New(flashsim.Config{Kind: bus.KindQSPI, Size: 1 << 20})

	if _, err := Open(testConfig(), chip); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if chip.MemSizeKiB() != 1024 {
		t.Errorf("MemSizeKiB = %d, want 1024", chip.MemSizeKiB())
	}

	_, err := Open(testConfig(), plainTransport{chip})
	if !errors.Is(err, ErrNoQuadFramer) {
		t.Errorf("err = %v, want ErrNoQuadFramer", err)
	}
}

func TestOpenAttachesCache(t *testing.T) {
	slots := make([]diskio.CacheDesc, 3)
	dev, _, _ := openSim(t, testConfig(), flashsim.Config{}, WithCache(slots))

	if dev.CacheSize() != 3 {
		t.Errorf("CacheSize = %d, want 3", dev.CacheSize())
	}
}

func TestReadIDNotRead(t *testing.T) {
	dev, chip, _ := openSim(t, testConfig(), flashsim.Config{})

	for _, n := range []int{0, -1} {
		id, err := dev.ReadID(n)
		if err != nil || id != protocol.IDNotRead {
			t.Errorf("ReadID(%d) = 0x%X, %v; want 0xFFFFFFFF", n, id, err)
		}
	}
	if got := chip.Stats.Transactions.Load(); got != 0 {
		t.Errorf("ReadID(0) made %d transactions", got)
	}

	if _, err := dev.ReadID(5); err == nil {
		t.Error("ReadID(5) succeeded")
	}
}

func TestReadIDWithoutCombinedRead(t *testing.T) {
	chip := flashsim.New(flashsim.Config{Size: 1 << 20, ID: []byte{0xC2, 0x20, 0x16}})
	dev, err := Open(testConfig(), plainTransport{chip})
	if err != nil {
		t.Fatal(err)
	}

	id, err := dev.ReadID(3)
	if err != nil {
		t.Fatalf("ReadID: %v", err)
	}
	if id != 0x1620C2 {
		t.Errorf("ReadID = 0x%06X, want 0x1620C2", id)
	}

	id, _ = dev.ReadID(2)
	if id != 0x20C2 {
		t.Errorf("ReadID(2) = 0x%X, want 0x20C2", id)
	}
}

func TestReadStatus(t *testing.T) {
	for _, kind := range []bus.Kind{bus.KindSPI, bus.KindQSPI} {
		t.Run(kind.String(), func(t *testing.T) {
			dev, chip, _ := openSim(t, testConfig(), flashsim.Config{Kind: kind})

			if err := dev.WriteEnable(0); err != nil {
				t.Fatal(err)
			}
			st, err := dev.ReadStatus()
			if err != nil {
				t.Fatal(err)
			}
			if !protocol.WriteEnabled(st) || protocol.Busy(st) {
				t.Errorf("status = %02X, want WEL only", st)
			}

			if err := dev.WriteDisable(); err != nil {
				t.Fatal(err)
			}
			if chip.WriteEnabled() {
				t.Error("WEL still set")
			}
		})
	}
}

func TestWaitReadyPollBudget(t *testing.T) {
	dev, chip, rec := openSim(t, testConfig(), flashsim.Config{})
	chip.SetBusy(-1)

	if dev.WaitReady(4, 0) {
		t.Fatal("WaitReady returned ready on a busy part")
	}
	if got := chip.Stats.StatusReads.Load(); got != 5 {
		t.Errorf("status reads = %d, want 5", got)
	}
	if len(rec.calls) != 0 {
		t.Errorf("delay called %d times with zero delay", len(rec.calls))
	}

	chip.ResetLog()
	if dev.WaitReady(3, 250*time.Microsecond) {
		t.Fatal("WaitReady returned ready on a busy part")
	}
	if got := chip.Stats.StatusReads.Load(); got != 4 {
		t.Errorf("status reads = %d, want 4", got)
	}
	if len(rec.calls) < 3 {
		t.Fatalf("delay called %d times, want at least 3", len(rec.calls))
	}
	for _, d := range rec.calls {
		if d != 250*time.Microsecond {
			t.Errorf("delay %v, want 250µs", d)
		}
	}
}

func TestWaitReadyClears(t *testing.T) {
	dev, chip, _ := openSim(t, testConfig(), flashsim.Config{})
	chip.SetBusy(2)

	if !dev.WaitReady(10, 0) {
		t.Fatal("WaitReady timed out")
	}
	if got := chip.Stats.StatusReads.Load(); got != 3 {
		t.Errorf("status reads = %d, want 3", got)
	}
}

func TestWaitReadyUsesWaitFunc(t *testing.T) {
	var calls []int
	cfg := testConfig()
	cfg.DevNo = 1
	cfg.WaitFunc = func(devNo int, _ bus.Transport) {
		calls = append(calls, devNo)
	}

	dev, chip, rec := openSim(t, cfg, flashsim.Config{})
	chip.SetBusy(3)

	if !dev.WaitReady(WaitForever, time.Millisecond) {
		t.Fatal("WaitReady timed out")
	}
	if diff := cmp.Diff([]int{1, 1, 1}, calls); diff != "" {
		t.Errorf("wait callback calls (-want +got):\n%s", diff)
	}
	if len(rec.calls) != 0 {
		t.Errorf("delay used alongside wait callback: %v", rec.calls)
	}
}

func TestEraseSectorAddresses(t *testing.T) {
	dev, chip, _ := openSim(t, testConfig(), flashsim.Config{})

	if err := dev.EraseSector(2, 3); err != nil {
		t.Fatalf("EraseSector: %v", err)
	}

	log := chip.Log()
	var addrs []uint32
	var headers [][]byte
	for _, c := range commandsFor(log, protocol.CmdSectorErase) {
		addrs = append(addrs, c.Addr)
		headers = append(headers, c.Header)
	}

	if diff := cmp.Diff([]uint32{8192, 12288, 16384}, addrs); diff != "" {
		t.Errorf("erase addresses (-want +got):\n%s", diff)
	}
	wantHeaders := [][]byte{
		{protocol.CmdSectorErase, 0x00, 0x20, 0x00},
		{protocol.CmdSectorErase, 0x00, 0x30, 0x00},
		{protocol.CmdSectorErase, 0x00, 0x40, 0x00},
	}
	if diff := cmp.Diff(wantHeaders, headers); diff != "" {
		t.Errorf("erase headers (-want +got):\n%s", diff)
	}

	wantOps := []byte{
		protocol.CmdWriteEnable, protocol.CmdSectorErase,
		protocol.CmdWriteEnable, protocol.CmdSectorErase,
		protocol.CmdWriteEnable, protocol.CmdSectorErase,
		protocol.CmdWriteDisable,
	}
	if diff := cmp.Diff(wantOps, opcodes(log, false)); diff != "" {
		t.Errorf("command sequence (-want +got):\n%s", diff)
	}
}

func TestEraseBlockQuad(t *testing.T) {
	dev, chip, _ := openSim(t, testConfig(), flashsim.Config{Kind: bus.KindQSPI})
	chip.Load(0, bytes.Repeat([]byte{0x00}, 4*64*1024))

	if err := dev.EraseBlock(1, 2); err != nil {
		t.Fatalf("EraseBlock: %v", err)
	}

	var addrs []uint32
	for _, c := range commandsFor(chip.Log(), protocol.CmdBlockErase) {
		if !c.Quad || !c.HasAddr {
			t.Errorf("block erase not framed with address: %+v", c)
		}
		addrs = append(addrs, c.Addr)
	}
	if diff := cmp.Diff([]uint32{65536, 131072}, addrs); diff != "" {
		t.Errorf("erase addresses (-want +got):\n%s", diff)
	}

	mem := chip.Memory()
	if mem[65535] != 0 || mem[65536] != 0xFF || mem[196607] != 0xFF || mem[196608] != 0 {
		t.Error("wrong range erased")
	}
}

func TestEraseWaitsWithDelays(t *testing.T) {
	dev, chip, rec := openSim(t, testConfig(), flashsim.Config{BusyPolls: 2})

	if err := dev.EraseSector(0, 2); err != nil {
		t.Fatal(err)
	}

	want := []time.Duration{
		unitPollDelay, unitPollDelay, // before the second unit
		longPollDelay, longPollDelay, // after the loop
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("delays (-want +got):\n%s", diff)
	}
	if chip.Stats.Erases.Load() != 2 {
		t.Errorf("Erases = %d, want 2", chip.Stats.Erases.Load())
	}
}

func TestEraseProgress(t *testing.T) {
	var got []Progress
	dev, _, _ := openSim(t, testConfig(), flashsim.Config{},
		WithProgressCallback(func(p Progress) { got = append(got, p) }))

	if err := dev.EraseBlock(3, 2); err != nil {
		t.Fatal(err)
	}

	if len(got) != 3 {
		t.Fatalf("progress calls = %d, want 3", len(got))
	}
	if got[0].Phase != PhaseErasing || got[0].Unit != 3 || got[0].Addr != 3*65536 || got[0].Percentage != 50 {
		t.Errorf("first report = %+v", got[0])
	}
	last := got[2]
	if last.Phase != PhaseComplete || last.Done != 2 || last.Percentage != 100 || last.Unit != 4 {
		t.Errorf("final report = %+v", last)
	}
}

func TestEraseZeroCount(t *testing.T) {
	dev, chip, _ := openSim(t, testConfig(), flashsim.Config{})

	if err := dev.EraseSector(0, 0); err != nil {
		t.Fatal(err)
	}
	if n := chip.Stats.Transactions.Load(); n != 0 {
		t.Errorf("%d transactions for empty erase", n)
	}
}

func TestBulkErase(t *testing.T) {
	logger := &MockLogger{}
	dev, chip, rec := openSim(t, testConfig(), flashsim.Config{BusyPolls: 2}, WithLogger(logger))
	chip.Load(0, bytes.Repeat([]byte{0x12}, chip.Size()))

	if err := dev.Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	if !bytes.Equal(chip.Memory(), bytes.Repeat([]byte{0xFF}, chip.Size())) {
		t.Error("chip not erased")
	}
	wantOps := []byte{protocol.CmdWriteEnable, protocol.CmdBulkErase, protocol.CmdWriteDisable}
	if diff := cmp.Diff(wantOps, opcodes(chip.Log(), false)); diff != "" {
		t.Errorf("command sequence (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{time.Second, time.Second}, rec.calls); diff != "" {
		t.Errorf("delays (-want +got):\n%s", diff)
	}
	if len(logger.infoMsgs) == 0 {
		t.Error("bulk erase not logged")
	}
}

func TestSectRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		kind bus.Kind
		wr   protocol.Command
		ws   int
		max  int
		busy int
	}{
		{name: "spi whole sector", kind: bus.KindSPI},
		{name: "spi pages", kind: bus.KindSPI, ws: 256},
		{name: "spi partial", kind: bus.KindSPI, ws: 256, max: 16, busy: 2},
		{name: "qspi whole sector", kind: bus.KindQSPI, wr: protocol.Command{Opcode: protocol.CmdQuadPageProgram}},
		{name: "qspi partial", kind: bus.KindQSPI, ws: 256, max: 40, busy: 1,
			wr: protocol.Command{Opcode: protocol.CmdQuadPageProgram}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.WriteSize = tt.ws
			cfg.WrCmd = tt.wr
			cfg.RdCmd = protocol.Command{Opcode: protocol.CmdFastRead, DummyCycles: 8}

			dev, _, _ := openSim(t, cfg, flashsim.Config{Kind: tt.kind, MaxTransfer: tt.max, BusyPolls: tt.busy})

			for _, sector := range []uint32{0, 7, 2047} {
				want := pattern(byte(sector))
				if err := dev.SectWrite(sector, want); err != nil {
					t.Fatalf("SectWrite(%d): %v", sector, err)
				}

				got := make([]byte, diskio.SectorSize)
				if err := dev.SectRead(sector, got); err != nil {
					t.Fatalf("SectRead(%d): %v", sector, err)
				}
				if !bytes.Equal(got, want) {
					t.Errorf("sector %d round trip mismatch", sector)
				}
			}
		})
	}
}

func TestPartialTransferCount(t *testing.T) {
	cfg := testConfig()
	dev, chip, _ := openSim(t, cfg, flashsim.Config{MaxTransfer: 16})

	if err := dev.SectWrite(3, pattern(0x33)); err != nil {
		t.Fatal(err)
	}
	programs := commandsFor(chip.Log(), protocol.CmdWrite)
	if len(programs) != diskio.SectorSize/16 {
		t.Fatalf("program transfers = %d, want %d", len(programs), diskio.SectorSize/16)
	}
	for i, c := range programs {
		if c.DataLen != 16 || c.Addr != 3*512+uint32(i)*16 {
			t.Errorf("program %d: addr 0x%X len %d", i, c.Addr, c.DataLen)
		}
	}

	chip.ResetLog()
	got := make([]byte, diskio.SectorSize)
	if err := dev.SectRead(3, got); err != nil {
		t.Fatal(err)
	}
	if reads := commandsFor(chip.Log(), protocol.CmdRead); len(reads) != diskio.SectorSize/16 {
		t.Errorf("read transfers = %d, want %d", len(reads), diskio.SectorSize/16)
	}
	if !bytes.Equal(got, pattern(0x33)) {
		t.Error("assembled sector differs")
	}
}

func TestQuadReadSingleTransaction(t *testing.T) {
	cfg := testConfig()
	cfg.RdCmd = protocol.Command{Opcode: protocol.CmdQuadIORead, DummyCycles: 6}
	dev, chip, _ := openSim(t, cfg, flashsim.Config{Kind: bus.KindQSPI, MaxTransfer: 16})

	if err := dev.SectRead(1, make([]byte, diskio.SectorSize)); err != nil {
		t.Fatal(err)
	}

	reads := commandsFor(chip.Log(), protocol.CmdQuadIORead)
	want := []flashsim.Command{{
		Opcode:      protocol.CmdQuadIORead,
		Addr:        512,
		HasAddr:     true,
		DataLen:     512,
		DummyCycles: 6,
		Quad:        true,
	}}
	if diff := cmp.Diff(want, reads); diff != "" {
		t.Errorf("read framing (-want +got):\n%s", diff)
	}
	// one status poll, then 512/16 data calls
	if got := chip.Stats.RxCalls.Load(); got != 1+32 {
		t.Errorf("RxData calls = %d, want 33", got)
	}
}

func TestAddressByteOrder(t *testing.T) {
	cfg := testConfig()
	cfg.TotalSize = 16384
	dev, chip, _ := openSim(t, cfg, flashsim.Config{MaxTransfer: 0x56})

	// sector 0x91A starts at 0x123400; the second transfer resumes at 0x123456
	if err := dev.SectRead(0x91A, make([]byte, diskio.SectorSize)); err != nil {
		t.Fatal(err)
	}

	reads := commandsFor(chip.Log(), protocol.CmdRead)
	if len(reads) < 2 {
		t.Fatalf("only %d read transfers", len(reads))
	}
	want := []byte{protocol.CmdRead, 0x12, 0x34, 0x56}
	if diff := cmp.Diff(want, reads[1].Header); diff != "" {
		t.Errorf("header bytes (-want +got):\n%s", diff)
	}
}

func TestFourByteAddress(t *testing.T) {
	cfg := testConfig()
	cfg.AddrSize = 4
	dev, chip, _ := openSim(t, cfg, flashsim.Config{AddrSize: 4})

	if err := dev.SectRead(0x91A, make([]byte, diskio.SectorSize)); err != nil {
		t.Fatal(err)
	}
	reads := commandsFor(chip.Log(), protocol.CmdRead)
	want := []byte{protocol.CmdRead, 0x00, 0x12, 0x34, 0x00}
	if len(reads) != 1 || !bytes.Equal(reads[0].Header, want) {
		t.Errorf("reads = %+v, want header % X", reads, want)
	}
}

func TestProgramSequence(t *testing.T) {
	tests := []struct {
		name string
		kind bus.Kind
		want []byte
	}{
		{
			name: "spi waits before every chunk",
			kind: bus.KindSPI,
			want: []byte{
				protocol.CmdReadStatus, protocol.CmdReadStatus, protocol.CmdWriteEnable, protocol.CmdWrite,
				protocol.CmdReadStatus, protocol.CmdReadStatus, protocol.CmdWriteEnable, protocol.CmdWrite,
				protocol.CmdWriteDisable,
			},
		},
		{
			name: "qspi relies on write enable wait",
			kind: bus.KindQSPI,
			want: []byte{
				protocol.CmdReadStatus, protocol.CmdWriteEnable, protocol.CmdQuadPageProgram,
				protocol.CmdReadStatus, protocol.CmdWriteEnable, protocol.CmdQuadPageProgram,
				protocol.CmdWriteDisable,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.WriteSize = 256
			cfg.WrCmd = protocol.Command{Opcode: protocol.CmdQuadPageProgram}
			dev, chip, _ := openSim(t, cfg, flashsim.Config{Kind: tt.kind})

			if err := dev.SectWrite(0, pattern(1)); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, opcodes(chip.Log(), true)); diff != "" {
				t.Errorf("command sequence (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSectReadStall(t *testing.T) {
	for _, kind := range []bus.Kind{bus.KindSPI, bus.KindQSPI} {
		t.Run(kind.String(), func(t *testing.T) {
			logger := &MockLogger{}
			dev, chip, _ := openSim(t, testConfig(), flashsim.Config{Kind: kind}, WithLogger(logger))
			chip.SetStall(false, true)

			err := dev.SectRead(5, make([]byte, diskio.SectorSize))
			var terr *TransferError
			if !errors.As(err, &terr) {
				t.Fatalf("err = %v, want *TransferError", err)
			}
			if terr.Op != "read" || terr.Addr != 5*512 || terr.Done != 0 || terr.Err != nil {
				t.Errorf("TransferError = %+v", terr)
			}
			if len(logger.errorMsgs) != 1 {
				t.Errorf("error logs = %v", logger.errorMsgs)
			}
		})
	}
}

func TestSectReadShortHeader(t *testing.T) {
	dev, chip, _ := openSim(t, testConfig(), flashsim.Config{MaxTransfer: 2})

	err := dev.SectRead(1, make([]byte, diskio.SectorSize))
	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TransferError", err)
	}
	if terr.Addr != 512 || terr.Done != 0 || !errors.Is(err, bus.ErrStalled) {
		t.Errorf("TransferError = %+v", terr)
	}
	for _, c := range chip.Log() {
		if c.Opcode == protocol.CmdRead {
			t.Errorf("read ran with a truncated address: %+v", c)
		}
	}
}

func TestSectWriteStallDisablesWrite(t *testing.T) {
	for _, kind := range []bus.Kind{bus.KindSPI, bus.KindQSPI} {
		t.Run(kind.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.WrCmd = protocol.Command{Opcode: protocol.CmdQuadPageProgram}
			dev, chip, _ := openSim(t, cfg, flashsim.Config{Kind: kind})
			chip.SetStall(true, false)

			err := dev.SectWrite(0, pattern(9))
			var terr *TransferError
			if !errors.As(err, &terr) || terr.Op != "program" {
				t.Fatalf("err = %v, want program *TransferError", err)
			}

			log := chip.Log()
			if last := log[len(log)-1].Opcode; last != protocol.CmdWriteDisable {
				t.Errorf("last command 0x%02X, want WRDI", last)
			}
			if chip.WriteEnabled() {
				t.Error("write enable latch left set")
			}
		})
	}
}

func TestShortBuffer(t *testing.T) {
	dev, chip, _ := openSim(t, testConfig(), flashsim.Config{})

	if err := dev.SectRead(0, make([]byte, 100)); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("SectRead err = %v", err)
	}
	if err := dev.SectWrite(0, make([]byte, 511)); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("SectWrite err = %v", err)
	}
	if n := chip.Stats.Transactions.Load(); n != 0 {
		t.Errorf("%d transactions for short buffers", n)
	}
}

func TestCacheInvalidatedByErase(t *testing.T) {
	slots := make([]diskio.CacheDesc, 2)
	dev, chip, _ := openSim(t, testConfig(), flashsim.Config{}, WithCache(slots))

	if _, err := dev.WriteAt([]byte("hello"), 10); err != nil {
		t.Fatal(err)
	}
	if err := dev.Flush(); err != nil {
		t.Fatal(err)
	}
	if mem := chip.Memory(); string(mem[10:15]) != "hello" {
		t.Fatalf("flash holds %q", mem[10:15])
	}

	if err := dev.EraseSector(0, 1); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 5)
	if _, err := dev.ReadAt(got, 10); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, 5)) {
		t.Errorf("stale cache after erase: %q", got)
	}
}

func TestRawWriteBypassesCache(t *testing.T) {
	slots := make([]diskio.CacheDesc, 2)
	dev, _, _ := openSim(t, testConfig(), flashsim.Config{}, WithCache(slots))

	if err := dev.EraseSector(0, 1); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, diskio.SectorSize)
	if err := dev.ReadSector(1, got); err != nil {
		t.Fatal(err)
	}

	want := pattern(7)
	if err := dev.SectWrite(1, want); err != nil {
		t.Fatal(err)
	}
	if err := dev.ReadSector(1, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, diskio.SectorSize)) {
		t.Error("cached read saw the raw write before Invalidate")
	}

	dev.Invalidate(1, 1)
	if err := dev.ReadSector(1, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Error("cached read after Invalidate differs from the raw write")
	}
}
