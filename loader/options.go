package loader

// Option configures a Loader.
type Option func(*config)

type config struct {
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // 0 = wazero default (65536 pages = 4GB)
	entryPoint       string
	programName      string
}

func defaultConfig() config {
	return config{
		memoryLimitPages: MemoryLimit1GB,
		entryPoint:       "_start",
		programName:      "snippet",
	}
}

// WithDiskCache enables a persistent compilation cache so re-running the
// same artifact skips native compilation. Optionally provide a directory;
// otherwise ~/.cache/gosnip/wazero or XDG_CACHE_HOME/gosnip/wazero is used.
func WithDiskCache(dir ...string) Option {
	return func(c *config) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit caps artifact linear memory in 64KB pages. Examples:
//   - WithMemoryLimit(256) = 16MB max
//   - WithMemoryLimit(4096) = 256MB max
//
// 0 lifts the cap to the wasm maximum of 4GB.
func WithMemoryLimit(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// WithEntryPoint changes the exported function called to start the
// artifact. The default is the WASI "_start".
func WithEntryPoint(name string) Option {
	return func(c *config) {
		c.entryPoint = name
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)
