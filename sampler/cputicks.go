package sampler

// CPUTicksBackend is an optional capability a ThreadBackend may
// implement to report a thread's cumulative scheduler ticks (user +
// system), letting the sampler compute cpu_usage_permil (spec §6
// NativeCallStack event) as a delta over the tick interval. Backends
// that don't implement it simply report zero usage; the field is
// advisory and the Converter's own cpu-delta computation (spec §4.E)
// does not depend on it.
type CPUTicksBackend interface {
	CPUTicks(tid uint64) (uint64, error)
}
