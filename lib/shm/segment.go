package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("shm")

// --------------------------------------------------------------------------
// Segment Header
// --------------------------------------------------------------------------

const (
	// HeaderSize is the fixed size of the header at the start of every segment
	HeaderSize = 64

	// Version is the layout version written into every segment header
	Version uint32 = 1

	// attachTimeout bounds how long an attacher waits for the owner to finish initialization
	attachTimeout = 2 * time.Second
)

var magic = [8]byte{'S', 'H', 'M', 'R', 'T', 'S', 'E', 'G'}

var (
	ErrSegmentNotFound = errors.New("shm: segment not found")
	ErrSegmentExists   = errors.New("shm: segment already exists")
	ErrInvalidSegment  = errors.New("shm: invalid segment")
	ErrInvalidName     = errors.New("shm: invalid segment name")
)

// Header is the fixed layout at offset 0 of every segment. It is written once
// by the owner before ready is set and is read-only for attachers afterwards.
// All fields are fixed width in host byte order, the segment never leaves the machine.
type Header struct {
	Magic          [8]byte
	Version        uint32
	HeaderSize     uint32
	TotalSize      uint64
	OwnerPID       uint32
	NodeCount      uint32
	NodeBufferSize uint32
	ready          uint32
	_              [24]byte
}

// static layout assertions: Header must be exactly HeaderSize bytes
var (
	_ [HeaderSize - unsafe.Sizeof(Header{})]byte
	_ [unsafe.Sizeof(Header{}) - HeaderSize]byte
)

// ValidateHeader checks magic, version and the recorded sizes against the mapped size.
func ValidateHeader(h *Header, mappedSize int) error {
	if h.Magic != magic {
		return fmt.Errorf("%w: bad magic %q", ErrInvalidSegment, h.Magic[:])
	}
	if h.Version != Version {
		return fmt.Errorf("%w: unsupported version %d (want %d)", ErrInvalidSegment, h.Version, Version)
	}
	if h.HeaderSize != HeaderSize {
		return fmt.Errorf("%w: header size %d (want %d)", ErrInvalidSegment, h.HeaderSize, HeaderSize)
	}
	if h.TotalSize != uint64(mappedSize) {
		return fmt.Errorf("%w: recorded size %d does not match mapped size %d", ErrInvalidSegment, h.TotalSize, mappedSize)
	}
	return nil
}

// --------------------------------------------------------------------------
// Segment
// --------------------------------------------------------------------------

// Segment is a named, pre-sized block of memory shared between processes.
// It provides raw byte storage only.
type Segment struct {
	name  string
	path  string
	file  *os.File
	mem   mmap.MMap
	owner bool
}

// CreateSegment creates and maps a new segment. The caller becomes the owner and
// must call MarkReady once its own layout on top of the segment is initialized.
func CreateSegment(name string, size int) (*Segment, error) {
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: size %d smaller than header", ErrInvalidSegment, size)
	}
	path, err := Path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrSegmentExists, name)
		}
		return nil, fmt.Errorf("create segment %s: %w", name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("truncate segment %s: %w", name, err)
	}
	mem, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("map segment %s: %w", name, err)
	}

	s := &Segment{name: name, path: path, file: f, mem: mem, owner: true}
	h := s.Header()
	h.Magic = magic
	h.Version = Version
	h.HeaderSize = HeaderSize
	h.TotalSize = uint64(size)
	h.OwnerPID = uint32(os.Getpid())

	Logger.Debugf("created segment %s (%d bytes)", name, size)
	return s, nil
}

// OpenSegment attaches to an existing segment created by another process (or goroutine).
// It waits a short time for the owner to mark the segment ready.
func OpenSegment(name string) (*Segment, error) {
	path, err := Path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, name)
		}
		return nil, fmt.Errorf("open segment %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat segment %s: %w", name, err)
	}
	if info.Size() < HeaderSize {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrInvalidSegment, name, info.Size())
	}
	mem, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("map segment %s: %w", name, err)
	}

	s := &Segment{name: name, path: path, file: f, mem: mem}
	if err := s.waitReady(attachTimeout); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := ValidateHeader(s.Header(), len(mem)); err != nil {
		_ = s.Close()
		return nil, err
	}

	Logger.Debugf("attached segment %s (%d bytes, owner pid %d)", name, len(mem), s.Header().OwnerPID)
	return s, nil
}

func (s *Segment) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for atomic.LoadUint32(&s.Header().ready) == 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s was never marked ready", ErrInvalidSegment, s.name)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// MarkReady publishes the segment to attachers. Only the owner calls this.
func (s *Segment) MarkReady() {
	atomic.StoreUint32(&s.Header().ready, 1)
}

// Header returns the segment header overlaid on the mapped memory.
func (s *Segment) Header() *Header {
	return (*Header)(unsafe.Pointer(&s.mem[0]))
}

// Bytes returns the whole mapped region, header included.
func (s *Segment) Bytes() []byte {
	return s.mem
}

func (s *Segment) Name() string {
	return s.name
}

func (s *Segment) IsOwner() bool {
	return s.owner
}

// Close unmaps the segment. It does not remove the backing file, see RemoveSegment.
func (s *Segment) Close() error {
	var errs []error
	if s.mem != nil {
		errs = append(errs, s.mem.Unmap())
		s.mem = nil
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Naming
// --------------------------------------------------------------------------

// Path returns the backing file path for a segment name.
func Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(baseDir(), "shmrt_"+name), nil
}

func baseDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// RemoveSegment unlinks a segment. Processes that still map it keep their mapping.
func RemoveSegment(name string) error {
	path, err := Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove segment %s: %w", name, err)
	}
	return nil
}

// SegmentExists reports whether a segment with the given name is present.
func SegmentExists(name string) bool {
	path, err := Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
