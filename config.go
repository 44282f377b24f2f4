package blazesym

// SourceConfig is a tagged variant selecting where addresses come from:
// a live process, the kernel, or an explicit Elf mapping. The three
// implementations are ProcessSource, KernelSource, and ElfSource; the
// unexported marker method keeps the set closed.
type SourceConfig interface {
	isSourceConfig()
}

// ProcessSource expands to the set of currently mapped executable regions
// of the process with the given pid.
type ProcessSource struct {
	PID int
}

func (ProcessSource) isSourceConfig() {}

// KernelSource resolves addresses against a running kernel's symbol table
// (and, if KernelImagePath is supplied, its DWARF debug info). An empty
// KallsymsPath falls back to /proc/kallsyms; an empty KernelImagePath is
// probed from the well-known vmlinux locations for the running release.
type KernelSource struct {
	KallsymsPath    string // defaults to "/proc/kallsyms"
	KernelImagePath string // optional; enables file/line for kernel addresses
}

func (KernelSource) isSourceConfig() {}

// ElfSource is an explicit object mapped at a known load address.
type ElfSource struct {
	FilePath    string
	LoadAddress uint64
}

func (ElfSource) isSourceConfig() {}
