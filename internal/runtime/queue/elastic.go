// Package queue implements the per-route overflow buffer. The first items of
// a buffering cycle stay in memory, later ones spill to append-only segment
// files, and reads replay everything in write order.
package queue

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/drblury/eventmesh/internal/runtime/config"
	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
)

const (
	frameData byte = 0x01
	frameEOF  byte = 0x00

	segmentPrefix = "data-"
	lengthSize    = 4
)

// Option customises an Elastic queue.
type Option func(*Elastic)

// WithSerializer sets the encoding of items spilled to disk. Msgpack is the
// default.
func WithSerializer(s Serializer) Option {
	return func(q *Elastic) {
		if s != nil {
			q.serializer = s
		}
	}
}

// WithMemoryBuffer sets how many items of a cycle are kept in memory.
func WithMemoryBuffer(n int) Option {
	return func(q *Elastic) {
		if n >= 0 {
			q.memoryBuffer = n
		}
	}
}

// WithMaxSegmentSize sets the size after which a segment is sealed with an
// EOF marker and writing rolls to the next one.
func WithMaxSegmentSize(n int64) Option {
	return func(q *Elastic) {
		if n > 0 {
			q.maxSegmentSize = n
		}
	}
}

// Elastic is an ordered memory+disk FIFO. It is not safe for concurrent use;
// the owning service queue serialises every call.
type Elastic struct {
	id             string
	dir            string
	serializer     Serializer
	memoryBuffer   int
	maxSegmentSize int64

	memory       []map[string]any
	readCounter  uint64
	writeCounter uint64
	readSegment  int
	writeSegment int
	writeSize    int64

	readFile  *os.File
	reader    *bufio.Reader
	writeFile *os.File

	peeked map[string]any
	empty  bool
}

// New prepares a queue stored under parent/id. The directory is created on
// the first spill, and leftovers from an earlier run are removed.
func New(parent, id string, opts ...Option) (*Elastic, error) {
	if parent == "" || id == "" {
		return nil, errspkg.ErrQueueDirRequired
	}
	q := &Elastic{
		id:             id,
		dir:            filepath.Join(parent, id),
		serializer:     MsgpackSerializer{},
		memoryBuffer:   config.DefaultMemoryBuffer,
		maxSegmentSize: config.DefaultMaxSegmentSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.initialize(); err != nil {
		return nil, err
	}
	return q, nil
}

// ID returns the queue id, normally the route name.
func (q *Elastic) ID() string { return q.id }

// Dir returns the directory holding the segment files.
func (q *Elastic) Dir() string { return q.dir }

// Written is the number of items written since the queue was last drained.
func (q *Elastic) Written() uint64 { return q.writeCounter }

// Pending is the number of written items not yet read.
func (q *Elastic) Pending() uint64 { return q.writeCounter - q.readCounter }

// IsClosed reports whether the queue holds no open files and no items.
func (q *Elastic) IsClosed() bool {
	return q.readFile == nil && q.writeFile == nil && q.writeCounter == 0
}

func (q *Elastic) initialize() error {
	if q.empty {
		return nil
	}
	q.empty = true
	q.memory = nil
	q.peeked = nil
	q.readCounter, q.writeCounter = 0, 0
	q.readSegment, q.writeSegment = 1, 1
	q.writeSize = 0
	return q.removeSegments()
}

func (q *Elastic) removeSegments() error {
	entries, err := os.ReadDir(q.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list queue %s: %w", q.id, err)
	}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), segmentPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(q.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (q *Elastic) segmentPath(n int) string {
	return filepath.Join(q.dir, segmentPrefix+strconv.Itoa(n))
}

// Write appends an item. Items beyond the memory buffer are framed as a DATA
// byte, a 4-byte big-endian length and the serialized payload.
func (q *Elastic) Write(item map[string]any) error {
	if q.writeCounter < uint64(q.memoryBuffer) {
		q.memory = append(q.memory, item)
		q.writeCounter++
		q.empty = false
		return nil
	}

	block, err := q.serializer.Marshal(item)
	if err != nil {
		return fmt.Errorf("serialize item for queue %s: %w", q.id, err)
	}
	if len(block) > math.MaxUint32 {
		return fmt.Errorf("item for queue %s exceeds %d bytes", q.id, uint32(math.MaxUint32))
	}
	if err := q.openWriter(); err != nil {
		return err
	}

	frame := make([]byte, 0, 1+lengthSize+len(block)+1)
	frame = append(frame, frameData)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(block)))
	frame = append(frame, block...)
	q.writeSize += int64(len(frame))
	roll := q.writeSize > q.maxSegmentSize
	if roll {
		frame = append(frame, frameEOF)
	}
	if _, err := q.writeFile.Write(frame); err != nil {
		return fmt.Errorf("write queue %s: %w", q.id, err)
	}
	q.writeCounter++
	q.empty = false

	if roll {
		err := q.writeFile.Close()
		q.writeFile = nil
		q.writeSegment++
		q.writeSize = 0
		if err != nil {
			return fmt.Errorf("seal segment of queue %s: %w", q.id, err)
		}
	}
	return nil
}

func (q *Elastic) openWriter() error {
	if q.writeFile != nil {
		return nil
	}
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return fmt.Errorf("create queue dir %s: %w", q.dir, err)
	}
	f, err := os.OpenFile(q.segmentPath(q.writeSegment), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open segment of queue %s: %w", q.id, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat segment of queue %s: %w", q.id, err)
	}
	q.writeFile = f
	q.writeSize = info.Size()
	return nil
}

// Peek returns the next item without consuming it. The following Read
// returns the same item.
func (q *Elastic) Peek() (map[string]any, error) {
	if q.peeked != nil {
		return q.peeked, nil
	}
	item, err := q.Read()
	if err != nil {
		return nil, err
	}
	q.peeked = item
	return item, nil
}

// Read returns the oldest unread item, or nil once every written item has
// been read. Reaching the end closes the queue and resets its counters.
func (q *Elastic) Read() (map[string]any, error) {
	if q.peeked != nil {
		item := q.peeked
		q.peeked = nil
		return item, nil
	}
	if q.readCounter >= q.writeCounter {
		return nil, q.Close()
	}
	if q.readCounter < uint64(q.memoryBuffer) && len(q.memory) > 0 {
		item := q.memory[0]
		q.memory[0] = nil
		q.memory = q.memory[1:]
		q.readCounter++
		return item, nil
	}
	return q.readDisk()
}

func (q *Elastic) readDisk() (map[string]any, error) {
	for {
		if q.reader == nil {
			f, err := os.Open(q.segmentPath(q.readSegment))
			if err != nil {
				return nil, fmt.Errorf("open segment %d: %w", q.readSegment, q.corrupted())
			}
			q.readFile = f
			q.reader = bufio.NewReader(f)
		}

		ctl, err := q.reader.ReadByte()
		if err != nil {
			return nil, q.corrupted()
		}
		switch ctl {
		case frameEOF:
			if err := q.dropReadSegment(); err != nil {
				return nil, err
			}
			continue
		case frameData:
		default:
			return nil, q.corrupted()
		}

		var size [lengthSize]byte
		if _, err := io.ReadFull(q.reader, size[:]); err != nil {
			return nil, q.corrupted()
		}
		block := make([]byte, binary.BigEndian.Uint32(size[:]))
		if _, err := io.ReadFull(q.reader, block); err != nil {
			return nil, q.corrupted()
		}
		q.readCounter++

		item, err := q.serializer.Unmarshal(block)
		if err != nil {
			return nil, fmt.Errorf("decode item of queue %s: %w", q.id, err)
		}
		return item, nil
	}
}

func (q *Elastic) dropReadSegment() error {
	name := q.readFile.Name()
	err := q.readFile.Close()
	q.readFile, q.reader = nil, nil
	q.readSegment++
	if rmErr := os.Remove(name); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	if err != nil {
		return fmt.Errorf("drop segment of queue %s: %w", q.id, err)
	}
	return nil
}

func (q *Elastic) corrupted() error {
	return &errspkg.CorruptedQueueError{Queue: q.id}
}

// Close releases open files and resets the queue to its initial empty state,
// discarding unread items.
func (q *Elastic) Close() error {
	var errs []error
	if q.readFile != nil {
		errs = append(errs, q.readFile.Close())
		q.readFile, q.reader = nil, nil
	}
	if q.writeFile != nil {
		errs = append(errs, q.writeFile.Close())
		q.writeFile = nil
	}
	errs = append(errs, q.initialize())
	return errors.Join(errs...)
}

// Destroy closes the queue and removes its directory.
func (q *Elastic) Destroy() error {
	err := q.Close()
	if q.IsClosed() {
		if rmErr := os.RemoveAll(q.dir); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
	}
	return err
}
