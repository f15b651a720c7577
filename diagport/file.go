package diagport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ultraprof/ultra/markers"
)

// Channel distinguishes the two live event streams a Session manages
// (spec §4.D).
type Channel int

const (
	ChannelSampler Channel = iota
	ChannelRuntime
)

func (ch Channel) fileSuffix() string {
	if ch == ChannelRuntime {
		return "clr"
	}
	return "sampler"
}

// IntermediateFileName returns the per-session binary event log name
// for a channel (spec §6: "<base>_<pid>_<kind>.nettrace").
func IntermediateFileName(base string, pid int, ch Channel) string {
	return fmt.Sprintf("%s_%d_%s.nettrace", base, pid, ch.fileSuffix())
}

// Writer appends length-prefixed records to an intermediate file. The
// live Session uses it to persist whatever the endpoint streams over
// the Unix socket; tests use it directly to build fixtures without a
// real victim process.
type Writer struct {
	w *bufio.Writer
	f *os.File
}

// CreateWriter truncates and opens path for a fresh recording.
func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{w: bufio.NewWriter(f), f: f}, nil
}

func (w *Writer) writeRecord(kind uint8, timeMs float64, payload []byte) error {
	var hdr [recordHeaderSize]byte
	hdr[0] = kind
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint64(hdr[5:13], math.Float64bits(timeMs))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.w.Write(payload)
	return err
}

// WriteNativeCallStack appends a sampler-channel stack sample.
func (w *Writer) WriteNativeCallStack(timeMs float64, e NativeCallStack) error {
	payload := make([]byte, 0, 28+len(e.Frames)*8)
	payload = appendU64(payload, e.SamplingID)
	payload = appendU64(payload, e.ThreadID)
	payload = appendI32(payload, e.RunState)
	payload = appendI32(payload, e.CPUUsagePermil)
	payload = appendI32(payload, e.PreviousFrameCount)
	payload = appendI32(payload, int32(len(e.Frames)*8))
	for _, f := range e.Frames {
		payload = appendU64(payload, f)
	}
	return w.writeRecord(uint8(KindNativeCallStack), timeMs, payload)
}

// WriteNativeModule appends a sampler-channel module event.
func (w *Writer) WriteNativeModule(timeMs float64, e NativeModule) error {
	pathBytes := []byte(e.Path)
	payload := make([]byte, 0, 48+len(pathBytes))
	payload = appendI32(payload, int32(e.EventKind))
	payload = appendU64(payload, e.LoadAddress)
	payload = appendU64(payload, e.Size)
	payload = appendI64(payload, e.WindowsFileTimeUTC)
	payload = append(payload, e.UUID[:]...)
	payload = appendI32(payload, int32(len(pathBytes)))
	payload = append(payload, pathBytes...)
	return w.writeRecord(uint8(KindNativeModule), timeMs, payload)
}

// WriteNativeThreadStart appends a sampler-channel thread-start event.
func (w *Writer) WriteNativeThreadStart(timeMs float64, e NativeThreadStart) error {
	nameBytes := []byte(e.Name)
	payload := make([]byte, 0, 20+len(nameBytes))
	payload = appendU64(payload, e.SamplingID)
	payload = appendU64(payload, e.ThreadID)
	payload = appendI32(payload, int32(len(nameBytes)))
	payload = append(payload, nameBytes...)
	return w.writeRecord(uint8(KindNativeThreadStart), timeMs, payload)
}

// WriteNativeThreadStop appends a sampler-channel thread-stop event.
func (w *Writer) WriteNativeThreadStop(timeMs float64, e NativeThreadStop) error {
	payload := make([]byte, 0, 16)
	payload = appendU64(payload, e.SamplingID)
	payload = appendU64(payload, e.ThreadID)
	return w.writeRecord(uint8(KindNativeThreadStop), timeMs, payload)
}

// WriteNativeProcessStart appends the sampler-channel manifest event.
func (w *Writer) WriteNativeProcessStart(timeMs float64, e NativeProcessStart) error {
	rid := encodeUTF16(e.RID)
	osName := encodeUTF16(e.OS)
	payload := make([]byte, 0, 16+len(rid)+len(osName))
	payload = appendI64(payload, e.StartTimeUTC)
	payload = appendI32(payload, e.Architecture)
	payload = appendI32(payload, int32(len(rid)/2))
	payload = append(payload, rid...)
	payload = appendI32(payload, int32(len(osName)/2))
	payload = append(payload, osName...)
	return w.writeRecord(uint8(KindNativeProcessStart), timeMs, payload)
}

// WriteRuntimeEvent appends a managed-runtime-channel record built
// from a markers.RuntimeEvent, using ev.TimeMs as the record's
// timestamp. Only the fields relevant to ev.Kind are encoded,
// mirroring decodeRuntimeEvent's field selection.
func (w *Writer) WriteRuntimeEvent(ev markers.RuntimeEvent) error {
	var payload []byte
	var kind RuntimeEventKind

	switch ev.Kind {
	case markers.MethodJittingStarted:
		kind = RKMethodJittingStarted
		ns := encodeUTF16(ev.Namespace)
		name := encodeUTF16(ev.Name)
		sig := encodeUTF16(ev.Signature)
		payload = appendU64(payload, ev.ThreadID)
		payload = appendU64(payload, ev.MethodID)
		payload = appendU64(payload, ev.ModuleID)
		payload = appendI32(payload, int32(len(ns)/2))
		payload = append(payload, ns...)
		payload = appendI32(payload, int32(len(name)/2))
		payload = append(payload, name...)
		payload = appendI32(payload, int32(len(sig)/2))
		payload = append(payload, sig...)
		payload = appendI32(payload, int32(ev.ILSize))

	case markers.MethodLoadVerbose:
		kind = RKMethodLoadVerbose
		payload = appendU64(payload, ev.ThreadID)
		payload = appendU64(payload, ev.MethodID)
		payload = appendU64(payload, ev.StartAddr)
		payload = appendI32(payload, int32(ev.CodeSize))
		var tok [4]byte
		binary.LittleEndian.PutUint32(tok[:], ev.Token)
		payload = append(payload, tok[:]...)

	case markers.GCStart:
		kind = RKGCStart
		reason := encodeUTF16(ev.GCReason)
		payload = appendU64(payload, ev.ThreadID)
		payload = appendI32(payload, int32(ev.GCCount))
		payload = appendI32(payload, int32(len(reason)/2))
		payload = append(payload, reason...)

	case markers.GCEnd:
		kind = RKGCEnd
		payload = appendU64(payload, ev.ThreadID)

	case markers.GCSuspendEEStart:
		kind = RKGCSuspendEEStart
		reason := encodeUTF16(ev.SuspendReason)
		payload = appendU64(payload, ev.ThreadID)
		payload = appendI32(payload, int32(ev.GCCount))
		payload = appendI32(payload, int32(len(reason)/2))
		payload = append(payload, reason...)

	case markers.GCSuspendEEStop:
		kind = RKGCSuspendEEStop
		payload = appendU64(payload, ev.ThreadID)

	case markers.GCRestartEEStart:
		kind = RKGCRestartEEStart
		payload = appendU64(payload, ev.ThreadID)

	case markers.GCRestartEEStop:
		kind = RKGCRestartEEStop
		payload = appendU64(payload, ev.ThreadID)

	case markers.GCHeapStatsEvent:
		kind = RKGCHeapStats
		hs := ev.HeapStats
		payload = appendU64(payload, ev.ThreadID)
		for _, v := range []uint64{
			hs.Gen0Size, hs.Gen0Promoted, hs.Gen1Size, hs.Gen1Promoted,
			hs.Gen2Size, hs.Gen2Promoted, hs.LOHSize, hs.LOHPromoted,
			hs.FinalizationPromoted, hs.TotalHeapSize,
		} {
			payload = appendU64(payload, v)
		}

	case markers.GCAllocationTickEvent:
		kind = RKGCAllocationTick
		a := ev.Alloc
		typeName := encodeUTF16(a.TypeName)
		payload = appendU64(payload, ev.ThreadID)
		payload = appendU64(payload, a.Amount)
		payload = appendI32(payload, int32(a.Kind))
		payload = appendI32(payload, int32(a.HeapIndex))
		payload = appendI32(payload, int32(len(typeName)/2))
		payload = append(payload, typeName...)

	default:
		return fmt.Errorf("diagport: unknown runtime event kind %d", ev.Kind)
	}

	return w.writeRecord(uint8(kind), ev.TimeMs, payload)
}

// Close flushes buffered data and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendI64(b []byte, v int64) []byte { return appendU64(b, uint64(v)) }

func appendI32(b []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(b, tmp[:]...)
}

func encodeUTF16(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		if r > 0xFFFF {
			r1, r2 := utf16Surrogates(r)
			out = append(out, byte(r1), byte(r1>>8), byte(r2), byte(r2>>8))
			continue
		}
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func utf16Surrogates(r rune) (uint16, uint16) {
	r -= 0x10000
	return uint16(0xD800 + (r >> 10)), uint16(0xDC00 + (r & 0x3FF))
}

// NativeReader reads sampler-channel records from an intermediate
// file in order, grounded on perffile/buf.go's buffered
// io.SectionReader pattern.
type NativeReader struct {
	r *bufio.Reader
	f *os.File
}

// OpenNativeReader opens a sampler-channel intermediate file for
// sequential reading.
func OpenNativeReader(path string) (*NativeReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &NativeReader{r: bufio.NewReaderSize(f, 16<<10), f: f}, nil
}

// Close releases the underlying file.
func (r *NativeReader) Close() error { return r.f.Close() }

// Next decodes the next record, returning io.EOF when the file is
// exhausted. The returned value is one of NativeCallStack,
// NativeModule, NativeThreadStart, NativeThreadStop, or
// NativeProcessStart, alongside its relative-ms timestamp.
func (r *NativeReader) Next() (interface{}, float64, error) {
	var hdr [recordHeaderSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return nil, 0, err
	}
	h, err := parseRecordHeader(hdr[:])
	if err != nil {
		return nil, 0, err
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, 0, err
	}
	c := &cursor{buf: payload}
	switch NativeEventKind(h.Kind) {
	case KindNativeCallStack:
		return decodeNativeCallStack(c), h.TimeMs, nil
	case KindNativeModule:
		return decodeNativeModule(c), h.TimeMs, nil
	case KindNativeThreadStart:
		return decodeNativeThreadStart(c), h.TimeMs, nil
	case KindNativeThreadStop:
		return decodeNativeThreadStop(c), h.TimeMs, nil
	case KindNativeProcessStart:
		return decodeNativeProcessStart(c), h.TimeMs, nil
	default:
		return nil, 0, fmt.Errorf("diagport: unknown native record kind %d", h.Kind)
	}
}

// RuntimeReader reads managed-runtime-channel records from an
// intermediate file in order.
type RuntimeReader struct {
	r *bufio.Reader
	f *os.File
}

// OpenRuntimeReader opens a runtime-channel intermediate file for
// sequential reading.
func OpenRuntimeReader(path string) (*RuntimeReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &RuntimeReader{r: bufio.NewReaderSize(f, 16<<10), f: f}, nil
}

// Close releases the underlying file.
func (r *RuntimeReader) Close() error { return r.f.Close() }

// Next decodes the next managed-runtime record as a markers.RuntimeEvent.
func (r *RuntimeReader) Next() (markers.RuntimeEvent, error) {
	var hdr [recordHeaderSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return markers.RuntimeEvent{}, err
	}
	h, err := parseRecordHeader(hdr[:])
	if err != nil {
		return markers.RuntimeEvent{}, err
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return markers.RuntimeEvent{}, err
	}
	c := &cursor{buf: payload}
	ev := decodeRuntimeEvent(RuntimeEventKind(h.Kind), c)
	ev.TimeMs = h.TimeMs
	return ev, nil
}
