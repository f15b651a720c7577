package diagport

// ProviderConfig describes one event-pipe provider the Session asks
// the victim's diagnostic-port endpoint to enable (spec §4.D
// Configuration).
type ProviderConfig struct {
	GUID         string
	Keywords     []string
	VerboseLevel int
	BufferMB     int
	CallStacks   bool
}

// samplerProviderGUID is a fixed GUID identifying this profiler's own
// native-sampler provider, distinct from any CLR runtime provider.
const samplerProviderGUID = "9E9EB68C-1D43-4F3C-9B41-6B9B6B4B7B8F"

// runtimeProviderGUID is the well-known .NET runtime event provider.
const runtimeProviderGUID = "E13C0D23-CCBC-4E12-931B-D9CC2EEE27E4"

// SamplerProvider returns the session configuration for the sampler
// channel: one provider, verbose, all keywords (spec §4.D).
func SamplerProvider() ProviderConfig {
	return ProviderConfig{
		GUID:         samplerProviderGUID,
		Keywords:     []string{"All"},
		VerboseLevel: 5,
		BufferMB:     32,
		CallStacks:   false,
	}
}

// RuntimeProvider returns the session configuration for the
// managed-runtime channel (spec §4.D).
func RuntimeProvider() ProviderConfig {
	return ProviderConfig{
		GUID: runtimeProviderGUID,
		Keywords: []string{
			"JITSymbols", "Exception", "GC", "GCHeapAndTypeNames", "Interop",
			"Jit", "JittedMethodILToNativeMap", "Loader", "Stack", "StartEnumeration",
		},
		VerboseLevel: 5,
		BufferMB:     512,
		CallStacks:   true,
	}
}
