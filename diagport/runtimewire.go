package diagport

import "github.com/ultraprof/ultra/markers"

// RuntimeEventKind enumerates the managed-runtime channel's wire
// record kinds. The diagnostic-port protocol itself only defines the
// IPC framing (connect, collect-tracing command, stream of
// provider-tagged records); the record shapes below are this
// profiler's own compact encoding for the subset of CLR runtime
// provider events the converter understands (spec §3/§4.E), grounded
// on the same record-header + fixed-field layout as the sampler
// channel's Native* events in wire.go. Each record's timestamp lives
// in the shared recordHeader, not in these payloads.
type RuntimeEventKind uint8

const (
	RKMethodJittingStarted RuntimeEventKind = iota
	RKMethodLoadVerbose
	RKGCStart
	RKGCEnd
	RKGCSuspendEEStart
	RKGCSuspendEEStop
	RKGCRestartEEStart
	RKGCRestartEEStop
	RKGCHeapStats
	RKGCAllocationTick
)

// decodeRuntimeEvent parses one managed-runtime record's payload into
// a markers.RuntimeEvent; the caller fills in TimeMs from the record
// header.
func decodeRuntimeEvent(kind RuntimeEventKind, c *cursor) markers.RuntimeEvent {
	switch kind {
	case RKMethodJittingStarted:
		threadID := c.u64()
		methodID := c.u64()
		moduleID := c.u64()
		nsLen := int(c.i32())
		ns := decodeUTF16(c, nsLen)
		nameLen := int(c.i32())
		name := decodeUTF16(c, nameLen)
		sigLen := int(c.i32())
		sig := decodeUTF16(c, sigLen)
		ilSize := c.u32()
		return markers.RuntimeEvent{
			Kind: markers.MethodJittingStarted, ThreadID: threadID,
			MethodID: methodID, ModuleID: moduleID, Namespace: ns, Name: name,
			Signature: sig, ILSize: ilSize,
		}

	case RKMethodLoadVerbose:
		threadID := c.u64()
		methodID := c.u64()
		startAddr := c.u64()
		codeSize := c.u32()
		token := c.u32()
		return markers.RuntimeEvent{
			Kind: markers.MethodLoadVerbose, ThreadID: threadID,
			MethodID: methodID, StartAddr: startAddr, CodeSize: codeSize, Token: token,
		}

	case RKGCStart:
		threadID := c.u64()
		count := c.i32()
		reasonLen := int(c.i32())
		reason := decodeUTF16(c, reasonLen)
		return markers.RuntimeEvent{
			Kind: markers.GCStart, ThreadID: threadID,
			GCCount: int(count), GCReason: reason,
		}

	case RKGCEnd:
		threadID := c.u64()
		return markers.RuntimeEvent{Kind: markers.GCEnd, ThreadID: threadID}

	case RKGCSuspendEEStart:
		threadID := c.u64()
		count := c.i32()
		reasonLen := int(c.i32())
		reason := decodeUTF16(c, reasonLen)
		return markers.RuntimeEvent{
			Kind: markers.GCSuspendEEStart, ThreadID: threadID,
			GCCount: int(count), SuspendReason: reason,
		}

	case RKGCSuspendEEStop:
		threadID := c.u64()
		return markers.RuntimeEvent{Kind: markers.GCSuspendEEStop, ThreadID: threadID}

	case RKGCRestartEEStart:
		threadID := c.u64()
		return markers.RuntimeEvent{Kind: markers.GCRestartEEStart, ThreadID: threadID}

	case RKGCRestartEEStop:
		threadID := c.u64()
		return markers.RuntimeEvent{Kind: markers.GCRestartEEStop, ThreadID: threadID}

	case RKGCHeapStats:
		threadID := c.u64()
		hs := markers.HeapStats{
			Gen0Size: c.u64(), Gen0Promoted: c.u64(),
			Gen1Size: c.u64(), Gen1Promoted: c.u64(),
			Gen2Size: c.u64(), Gen2Promoted: c.u64(),
			LOHSize: c.u64(), LOHPromoted: c.u64(),
			FinalizationPromoted: c.u64(), TotalHeapSize: c.u64(),
		}
		return markers.RuntimeEvent{Kind: markers.GCHeapStatsEvent, ThreadID: threadID, HeapStats: hs}

	case RKGCAllocationTick:
		threadID := c.u64()
		amount := c.u64()
		allocKind := markers.AllocationKind(c.i32())
		heapIndex := c.i32()
		typeNameLen := int(c.i32())
		typeName := decodeUTF16(c, typeNameLen)
		return markers.RuntimeEvent{
			Kind: markers.GCAllocationTickEvent, ThreadID: threadID,
			Alloc: markers.AllocationTick{
				Amount: amount, Kind: allocKind, TypeName: typeName, HeapIndex: int(heapIndex),
			},
		}
	}
	return markers.RuntimeEvent{}
}
