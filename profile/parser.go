package profile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/moffa90/go-flashdisk/protocol"
)

// Defaults applied to fields a profile leaves out.
const (
	// DefaultPageSize is the page program size of common serial NOR parts
	DefaultPageSize = 256

	// DefaultBlockKiB is the usual BLOCK_ERASE size
	DefaultBlockKiB = 64
)

// FieldError reports an invalid field in one profile document.
type FieldError struct {
	// Doc is the 0-based document index in the stream
	Doc int

	// Name is the profile name, when known
	Name string

	// Field is the YAML key at fault
	Field string

	// Reason describes the problem
	Reason string
}

func (e *FieldError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("profile %d: %s: %s", e.Doc, e.Field, e.Reason)
	}
	return fmt.Sprintf("profile %d (%s): %s: %s", e.Doc, e.Name, e.Field, e.Reason)
}

// Parse parses a profile file. A file may hold several YAML documents, one
// profile each.
//
// Example:
//
//	parts, err := profile.Parse("parts.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	dev, err := flash.Open(parts[0].Config(0), transport)
func Parse(path string) ([]*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader parses profiles from any io.Reader. Unknown keys are errors.
//
// Example:
//
//	parts, err := profile.ParseReader(strings.NewReader(`
//	name: W25Q32JV
//	id: EF 40 16
//	size_kib: 4096
//	sector_kib: 4
//	`))
func ParseReader(r io.Reader) ([]*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)

	var out []*Profile
	for doc := 0; ; doc++ {
		p := new(Profile)
		err := dec.Decode(p)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("profile %d: %w", doc, err)
		}

		p.setDefaults()
		if err := validate(doc, p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no profiles found")
	}

	return out, nil
}

// validate checks a decoded profile with defaults applied.
func validate(doc int, p *Profile) error {
	fail := func(field, format string, args ...interface{}) error {
		return &FieldError{Doc: doc, Name: p.Name, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	if p.Name == "" {
		return fail("name", "required")
	}

	id, err := p.IDBytes()
	if err != nil {
		return fail("id", "%v", err)
	}
	if p.CheckID && len(id) == 0 {
		return fail("check_id", "set without an id")
	}

	if p.SizeKiB == 0 {
		return fail("size_kib", "required")
	}
	if p.SectorKiB == 0 {
		return fail("sector_kib", "required")
	}
	if p.BlockKiB < p.SectorKiB || p.BlockKiB%p.SectorKiB != 0 {
		return fail("block_kib", "%d is not a multiple of the %d KiB sector", p.BlockKiB, p.SectorKiB)
	}
	if p.SizeKiB%uint64(p.BlockKiB) != 0 {
		return fail("size_kib", "%d is not a whole number of %d KiB blocks", p.SizeKiB, p.BlockKiB)
	}
	if p.PageSize < 0 {
		return fail("page_size", "must not be negative")
	}
	if p.AddrSize < 1 || p.AddrSize > protocol.MaxAddrSize {
		return fail("addr_size", "%d is not 1-4 bytes", p.AddrSize)
	}
	if p.AddrSize < protocol.MaxAddrSize && p.SizeBytes() > 1<<(8*uint(p.AddrSize)) {
		return fail("addr_size", "%d bytes cannot address %d KiB", p.AddrSize, p.SizeKiB)
	}

	return nil
}
