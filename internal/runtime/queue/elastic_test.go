package queue

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
)

func newTestQueue(t *testing.T, opts ...Option) *Elastic {
	t.Helper()
	q, err := New(t.TempDir(), "hello.world", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Destroy() })
	return q
}

func TestNewRequiresDirAndID(t *testing.T) {
	_, err := New("", "x")
	assert.ErrorIs(t, err, errspkg.ErrQueueDirRequired)

	_, err = New(t.TempDir(), "")
	assert.ErrorIs(t, err, errspkg.ErrQueueDirRequired)
}

func TestReadEmptyQueueReturnsNil(t *testing.T) {
	q := newTestQueue(t)
	item, err := q.Read()
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.True(t, q.IsClosed())
}

func TestMemoryOnlyDoesNotTouchDisk(t *testing.T) {
	q := newTestQueue(t, WithMemoryBuffer(5))
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Write(map[string]any{"n": i}))
	}
	_, err := os.Stat(q.Dir())
	assert.True(t, errors.Is(err, os.ErrNotExist), "directory must not exist until the first spill")

	for i := 0; i < 5; i++ {
		item, err := q.Read()
		require.NoError(t, err)
		assert.Equal(t, i, item["n"])
	}
}

func TestSpillPreservesOrder(t *testing.T) {
	q := newTestQueue(t, WithMemoryBuffer(3))

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Write(map[string]any{"n": i, "blob": []byte{byte(i), 0xff}}))
	}
	assert.EqualValues(t, 10, q.Pending())
	assert.DirExists(t, q.Dir())

	for i := 0; i < 10; i++ {
		item, err := q.Read()
		require.NoError(t, err)
		require.NotNil(t, item, "item %d", i)
		assert.EqualValues(t, i, item["n"])
		assert.Equal(t, []byte{byte(i), 0xff}, item["blob"])
	}

	item, err := q.Read()
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.True(t, q.IsClosed())
}

func TestSegmentRollover(t *testing.T) {
	q := newTestQueue(t, WithMemoryBuffer(0), WithMaxSegmentSize(32))

	for i := 0; i < 20; i++ {
		require.NoError(t, q.Write(map[string]any{"payload": "0123456789", "n": i}))
	}

	segments, err := filepath.Glob(filepath.Join(q.Dir(), segmentPrefix+"*"))
	require.NoError(t, err)
	assert.Greater(t, len(segments), 1)

	for i := 0; i < 20; i++ {
		item, err := q.Read()
		require.NoError(t, err)
		assert.EqualValues(t, i, item["n"])
	}

	segments, err = filepath.Glob(filepath.Join(q.Dir(), segmentPrefix+"*"))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(segments), 1, "consumed segments are removed")
}

func TestInterleavedWritesAndReads(t *testing.T) {
	q := newTestQueue(t, WithMemoryBuffer(2), WithMaxSegmentSize(64))

	next := 0
	for i := 0; i < 30; i++ {
		require.NoError(t, q.Write(map[string]any{"n": i}))
		if i%3 == 2 {
			item, err := q.Read()
			require.NoError(t, err)
			assert.EqualValues(t, next, item["n"])
			next++
		}
	}
	for {
		item, err := q.Read()
		require.NoError(t, err)
		if item == nil {
			break
		}
		assert.EqualValues(t, next, item["n"])
		next++
	}
	assert.Equal(t, 30, next)
}

func TestPeekDoesNotConsume(t *testing.T) {
	q := newTestQueue(t, WithMemoryBuffer(1))
	require.NoError(t, q.Write(map[string]any{"n": 1}))
	require.NoError(t, q.Write(map[string]any{"n": 2}))

	first, err := q.Peek()
	require.NoError(t, err)
	again, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	read, err := q.Read()
	require.NoError(t, err)
	assert.Equal(t, first, read)

	second, err := q.Read()
	require.NoError(t, err)
	assert.EqualValues(t, 2, second["n"])
}

func TestCloseResetsState(t *testing.T) {
	q := newTestQueue(t, WithMemoryBuffer(1))
	require.NoError(t, q.Write(map[string]any{"n": 1}))
	require.NoError(t, q.Write(map[string]any{"n": 2}))

	require.NoError(t, q.Close())
	assert.True(t, q.IsClosed())
	assert.Zero(t, q.Pending())
	assert.DirExists(t, q.Dir())

	segments, err := filepath.Glob(filepath.Join(q.Dir(), segmentPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, segments)

	require.NoError(t, q.Write(map[string]any{"n": 3}))
	item, err := q.Read()
	require.NoError(t, err)
	assert.EqualValues(t, 3, item["n"])
}

func TestDestroyRemovesDirectory(t *testing.T) {
	q, err := New(t.TempDir(), "gone", WithMemoryBuffer(0))
	require.NoError(t, err)
	require.NoError(t, q.Write(map[string]any{"n": 1}))
	assert.DirExists(t, q.Dir())

	require.NoError(t, q.Destroy())
	assert.NoDirExists(t, q.Dir())
}

func TestCorruptedSegment(t *testing.T) {
	q := newTestQueue(t, WithMemoryBuffer(0))
	require.NoError(t, q.Write(map[string]any{"n": 1}))

	require.NoError(t, os.WriteFile(q.segmentPath(1), []byte{0x07, 0x00}, 0o644))

	_, err := q.Read()
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrCorruptedQueue)
	assert.Equal(t, "Corrupted queue for hello.world", err.Error())
}

func TestTruncatedFrame(t *testing.T) {
	q := newTestQueue(t, WithMemoryBuffer(0))
	require.NoError(t, q.Write(map[string]any{"n": 1}))

	require.NoError(t, os.WriteFile(q.segmentPath(1), []byte{frameData, 0x00, 0x00, 0x00, 0x10, 0x01}, 0o644))

	_, err := q.Read()
	assert.ErrorIs(t, err, errspkg.ErrCorruptedQueue)
}

func TestStaleSegmentsAreRemovedOnStart(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "stale")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, segmentPrefix+"1"), []byte{0x01}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644))

	_, err := New(parent, "stale")
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, segmentPrefix+"1"))
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
}

func TestJSONSerializer(t *testing.T) {
	q := newTestQueue(t, WithMemoryBuffer(0), WithSerializer(JSONSerializer{}))
	require.NoError(t, q.Write(map[string]any{"name": "demo", "n": 7}))

	data, err := os.ReadFile(q.segmentPath(1))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"demo"`)

	item, err := q.Read()
	require.NoError(t, err)
	assert.Equal(t, "demo", item["name"])
	assert.EqualValues(t, 7, item["n"])
}

func TestSerializerFor(t *testing.T) {
	s, err := SerializerFor("")
	require.NoError(t, err)
	assert.IsType(t, MsgpackSerializer{}, s)

	s, err = SerializerFor("json")
	require.NoError(t, err)
	assert.IsType(t, JSONSerializer{}, s)

	_, err = SerializerFor("yaml")
	assert.Error(t, err)
}
