package bus

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// recorder is a minimal Transport that logs the calls it receives.
type recorder struct {
	kind  Kind
	calls []string
	rx    []byte
	txErr error
	txMax int
}

func (r *recorder) Type() Kind { return r.kind }

func (r *recorder) StartRx(devNo int) error {
	r.calls = append(r.calls, "startrx")
	return nil
}

func (r *recorder) StopRx() { r.calls = append(r.calls, "stoprx") }

func (r *recorder) StartTx(devNo int) error {
	r.calls = append(r.calls, "starttx")
	return nil
}

func (r *recorder) StopTx() { r.calls = append(r.calls, "stoptx") }

func (r *recorder) RxData(p []byte) (int, error) {
	r.calls = append(r.calls, "rx")
	return copy(p, r.rx), nil
}

func (r *recorder) TxData(p []byte) (int, error) {
	r.calls = append(r.calls, "tx")
	if r.txErr != nil {
		return 0, r.txErr
	}
	if r.txMax > 0 && len(p) > r.txMax {
		return r.txMax, nil
	}
	return len(p), nil
}

func (r *recorder) Tx(devNo int, p []byte) (int, error) {
	r.calls = append(r.calls, "txframe")
	return len(p), nil
}

type combined struct {
	recorder
}

func (c *combined) Read(devNo int, cmd, p []byte) (int, error) {
	c.calls = append(c.calls, "read")
	return copy(p, c.rx), nil
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSPI, "spi"},
		{KindI2C, "i2c"},
		{KindQSPI, "qspi"},
		{Kind(9), "kind(9)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestReadFallsBackToTransaction(t *testing.T) {
	r := &recorder{rx: []byte{0xEF, 0x40}}
	buf := make([]byte, 2)

	n, err := Read(r, 0, []byte{0x9F}, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}

	want := []string{"startrx", "tx", "rx", "stoprx"}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestReadUsesWriteReader(t *testing.T) {
	c := &combined{recorder{rx: []byte{0x01}}}
	buf := make([]byte, 1)

	if _, err := Read(c, 0, []byte{0x05}, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff([]string{"read"}, c.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite(t *testing.T) {
	r := &recorder{}

	n, err := Write(r, 0, []byte{0x02, 0, 0, 0}, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
	want := []string{"starttx", "tx", "tx", "stoptx"}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteCommandError(t *testing.T) {
	boom := errors.New("boom")
	r := &recorder{txErr: boom}

	_, err := Write(r, 0, []byte{0x06}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if r.calls[len(r.calls)-1] != "stoptx" {
		t.Error("transaction not closed after error")
	}
}

func TestShortCommandStalls(t *testing.T) {
	cmd := []byte{0x03, 0x01, 0x02, 0x03}

	tests := []struct {
		name string
		run  func(r *recorder) error
		want []string
	}{
		{
			name: "read",
			run: func(r *recorder) error {
				_, err := Read(r, 0, cmd, make([]byte, 4))
				return err
			},
			want: []string{"startrx", "tx", "stoprx"},
		},
		{
			name: "write",
			run: func(r *recorder) error {
				_, err := Write(r, 0, cmd, []byte{0xAA})
				return err
			},
			want: []string{"starttx", "tx", "stoptx"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{rx: []byte{1, 2, 3, 4}, txMax: 2}

			if err := tt.run(r); !errors.Is(err, ErrStalled) {
				t.Fatalf("err = %v, want ErrStalled", err)
			}
			if diff := cmp.Diff(tt.want, r.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type singleWrite struct {
	recorder
	sent []byte
}

func (s *singleWrite) Write(devNo int, cmd, data []byte) (int, error) {
	s.calls = append(s.calls, "write")
	s.sent = append(append(s.sent, cmd...), data...)
	return len(data), nil
}

func TestWriteUsesCmdWriter(t *testing.T) {
	s := &singleWrite{}

	n, err := Write(s, 0x68, []byte{0x06}, []byte{0x80})
	if err != nil || n != 1 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if diff := cmp.Diff([]string{"write"}, s.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x06, 0x80}, s.sent); diff != "" {
		t.Errorf("bytes mismatch (-want +got):\n%s", diff)
	}
}
