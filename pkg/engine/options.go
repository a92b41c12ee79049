package engine

// EntryDeclaration declares one entry point of the compilation.
type EntryDeclaration struct {
	// Name is the entry (and collection) name.
	Name string `json:"name"`

	// References are the resources to evaluate for this entry.
	References []ResourceDescriptor `json:"references"`

	// Includes are resources merely included with the entry: resolved and
	// built non-recursively, without transitive discovery.
	Includes []ResourceDescriptor `json:"includes,omitempty"`

	// DependOn names entries whose execution context this entry shares;
	// the entry then emits no independent runtime of its own.
	DependOn []string `json:"depend_on,omitempty"`

	// Runtime explicitly names a shared execution context used by this
	// and possibly other entries. Mutually exclusive with DependOn.
	Runtime string `json:"runtime,omitempty"`
}

// FastPathAccept decides whether a remembered descriptor -> identity
// resolution from a prior run may be reused without resolving again.
type FastPathAccept func(descriptorKey, identity string) bool

// Options configures a compilation.
type Options struct {
	// Parallelism bounds concurrently in-flight resolution and build
	// operations. Defaults to 16.
	Parallelism int `json:"parallelism"`

	// Bail stops every queue at the first error. Without it the engine
	// accumulates errors and completes the whole graph before reporting.
	Bail bool `json:"bail"`

	// FastPathCache opts into reusing remembered resolutions from a prior
	// run, skipping resolve and build for accepted references. This trades
	// strict up-to-date guarantees for incremental-rebuild speed and is
	// never a hidden default.
	FastPathCache bool `json:"fast_path_cache"`

	// FastPathAccept guards fast-path reuse. Ignored unless FastPathCache
	// is set; nil accepts everything.
	FastPathAccept FastPathAccept `json:"-"`

	// MinSharedSize is the splitting policy knob for the common-unit
	// extraction pass: units smaller than this stay in their groups.
	MinSharedSize int `json:"min_shared_size"`
}

// withDefaults fills unset option fields.
func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = 16
	}
	return o
}
