package markers

// heapStatsMarker builds the Instance marker for a GCHeapStats event
// (spec §3/§4.E). The assembler is additionally responsible for
// appending this event's TotalHeapSize to the process-wide memory
// counter; that bookkeeping lives in the assembler package since it
// spans threads, which this per-event builder does not have visibility
// into.
func heapStatsMarker(ev RuntimeEvent) *Completed {
	hs := ev.HeapStats
	return &Completed{
		Name:     "GCHeapStats",
		Start:    ev.TimeMs,
		End:      ev.TimeMs,
		Category: CategoryGC,
		Phase:    PhaseInstance,
		Payload: map[string]interface{}{
			"type":                 "GCHeapStats",
			"gen0Size":             hs.Gen0Size,
			"gen0Promoted":         hs.Gen0Promoted,
			"gen1Size":             hs.Gen1Size,
			"gen1Promoted":         hs.Gen1Promoted,
			"gen2Size":             hs.Gen2Size,
			"gen2Promoted":         hs.Gen2Promoted,
			"lohSize":              hs.LOHSize,
			"lohPromoted":          hs.LOHPromoted,
			"finalizationPromoted": hs.FinalizationPromoted,
			"totalHeapSize":        hs.TotalHeapSize,
		},
	}
}

// allocationTickMarker builds the Instance marker for a
// GCAllocationTick event (spec §3/§4.E).
func allocationTickMarker(ev RuntimeEvent) *Completed {
	a := ev.Alloc
	return &Completed{
		Name:     "GCAllocationTick",
		Start:    ev.TimeMs,
		End:      ev.TimeMs,
		Category: CategoryGC,
		Phase:    PhaseInstance,
		Payload: map[string]interface{}{
			"type":      "GCAllocationTick",
			"amount":    a.Amount,
			"kind":      a.Kind.String(),
			"typeName":  a.TypeName,
			"heapIndex": a.HeapIndex,
		},
	}
}
