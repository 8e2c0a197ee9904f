// Package buffer is the durable write-ahead buffer between fetch and commit.
//
// Entries are appended to a JSONL log and fsynced before the caller proceeds,
// so a crash between fetch and store commit loses nothing. Consumption is
// tracked as a count of applied entries in a sidecar file; entries are only
// marked consumed after the visitor confirms the store write, which makes
// duplicate replay possible and relies on the reconciler's idempotent upsert
// to make it harmless.
package buffer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	logName    = "pending.jsonl"
	offsetName = "pending.offset"
)

// Entry is one durably recorded pending upsert.
type Entry struct {
	Seq        int64          `json:"seq"`
	ID         string         `json:"id"`
	Payload    map[string]any `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Visitor applies one entry to the store. Returning an error leaves the entry
// unconsumed; it will be replayed on the next drain.
type Visitor func(e Entry) error

// Buffer is an append-only log of pending upserts rooted in one directory.
// Appends are serialized by a single mutex so append order is well defined;
// drains hold the same mutex, so consumption is single-threaded.
type Buffer struct {
	mu       sync.Mutex
	dir      string
	f        *os.File
	w        *bufio.Writer
	nextSeq  int64
	total    int64 // entries ever appended to the current log
	consumed int64 // prefix of entries confirmed applied
}

// Open opens (or creates) the buffer in dir and loads any state left behind
// by an interrupted prior run. A half-written trailing line from a crashed
// append is discarded; fully written entries before it are preserved.
func Open(dir string) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create buffer dir: %w", err)
	}

	b := &Buffer{dir: dir}
	if err := b.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(b.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open buffer log: %w", err)
	}
	b.f = f
	b.w = bufio.NewWriter(f)

	if pending := b.total - b.consumed; pending > 0 {
		log.Info().
			Str("dir", dir).
			Int64("pending", pending).
			Msg("buffer opened with entries from a prior run")
	}
	return b, nil
}

func (b *Buffer) logPath() string    { return filepath.Join(b.dir, logName) }
func (b *Buffer) offsetPath() string { return filepath.Join(b.dir, offsetName) }

// load scans the existing log to recover entry count and next sequence,
// truncates away any torn tail left by an interrupted append, and reads the
// consumed offset.
func (b *Buffer) load() error {
	entries, validLen, err := b.readEntries()
	if err != nil {
		return err
	}
	if info, serr := os.Stat(b.logPath()); serr == nil && info.Size() > validLen {
		log.Warn().
			Str("dir", b.dir).
			Int64("discarded_bytes", info.Size()-validLen).
			Msg("truncating torn tail from buffer log")
		if terr := os.Truncate(b.logPath(), validLen); terr != nil {
			return fmt.Errorf("truncate torn buffer tail: %w", terr)
		}
	}
	b.total = int64(len(entries))
	b.nextSeq = 1
	if n := len(entries); n > 0 {
		b.nextSeq = entries[n-1].Seq + 1
	}

	raw, err := os.ReadFile(b.offsetPath())
	switch {
	case os.IsNotExist(err):
		b.consumed = 0
	case err != nil:
		return fmt.Errorf("read buffer offset: %w", err)
	default:
		n, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if perr != nil {
			log.Warn().Str("dir", b.dir).Msg("corrupt buffer offset, replaying from start")
			n = 0
		}
		if n > b.total {
			n = b.total
		}
		b.consumed = n
	}
	return nil
}

// readEntries decodes the whole log, stopping at (and not counting) a torn
// trailing line. validLen is the byte length of the intact prefix.
func (b *Buffer) readEntries() ([]Entry, int64, error) {
	f, err := os.Open(b.logPath())
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open buffer log: %w", err)
	}
	defer f.Close()

	var (
		entries  []Entry
		validLen int64
	)
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, rerr := r.ReadBytes('\n')
		if len(line) > 0 {
			// A line without its trailing newline is a torn write from
			// an interrupted append; everything before it was fsynced
			// and stays.
			complete := rerr == nil
			var e Entry
			if !complete || json.Unmarshal(line, &e) != nil {
				log.Warn().Str("dir", b.dir).Msg("ignoring torn tail entry in buffer log")
				break
			}
			entries = append(entries, e)
			validLen += int64(len(line))
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return nil, 0, fmt.Errorf("read buffer log: %w", rerr)
		}
	}
	return entries, validLen, nil
}

// Append durably records one pending upsert and returns only after the entry
// has been flushed to stable storage.
func (b *Buffer) Append(id string, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := Entry{
		Seq:        b.nextSeq,
		ID:         id,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode buffer entry: %w", err)
	}
	if _, err := b.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append buffer entry: %w", err)
	}
	if err := b.w.Flush(); err != nil {
		return fmt.Errorf("flush buffer entry: %w", err)
	}
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("sync buffer log: %w", err)
	}

	b.nextSeq++
	b.total++
	return nil
}

// Drain replays all unconsumed entries in append order. The consumed marker
// only advances across a contiguous prefix of successes: a failed entry and
// everything after it stay pending for the next drain (re-application is
// idempotent at the store). Once every entry is consumed the log is compacted.
// The returned error reports buffer I/O problems only; visitor errors are the
// visitor's to account for.
func (b *Buffer) Drain(visit Visitor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total == b.consumed {
		return nil
	}

	entries, _, err := b.readEntries()
	if err != nil {
		return err
	}

	prefixIntact := true
	for _, e := range entries[b.consumed:] {
		if err := visit(e); err != nil {
			log.Warn().Err(err).Str("id", e.ID).Int64("seq", e.Seq).Msg("buffer entry not applied, kept for next drain")
			prefixIntact = false
			continue
		}
		if prefixIntact {
			b.consumed++
			if err := b.writeOffset(); err != nil {
				return err
			}
		}
	}

	if b.consumed == b.total {
		return b.compact()
	}
	return nil
}

// Pending returns the number of unconsumed entries.
func (b *Buffer) Pending() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total - b.consumed
}

// Close flushes and closes the underlying log file.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.w.Flush(); err != nil {
		return err
	}
	return b.f.Close()
}

// writeOffset persists the consumed count atomically (temp file + rename).
func (b *Buffer) writeOffset() error {
	tmp := b.offsetPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(b.consumed, 10)), 0o644); err != nil {
		return fmt.Errorf("write buffer offset: %w", err)
	}
	if err := os.Rename(tmp, b.offsetPath()); err != nil {
		return fmt.Errorf("replace buffer offset: %w", err)
	}
	return nil
}

// compact resets a fully consumed log so it does not grow without bound.
func (b *Buffer) compact() error {
	if err := b.w.Flush(); err != nil {
		return err
	}
	if err := b.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate buffer log: %w", err)
	}
	if _, err := b.f.Seek(0, 0); err != nil {
		return fmt.Errorf("rewind buffer log: %w", err)
	}
	b.total = 0
	b.consumed = 0
	if err := b.writeOffset(); err != nil {
		return err
	}
	log.Debug().Str("dir", b.dir).Msg("buffer log compacted")
	return nil
}
