// Package index provides vector index storage options.
package index

import (
	"fmt"

	"github.com/kart-io/compliance-rag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Backend names.
const (
	BackendLocal  = "local"
	BackendMilvus = "milvus"
)

// Options contains index artifact configuration.
type Options struct {
	// Backend selects where the index artifact lives (local, milvus).
	Backend string `json:"backend" mapstructure:"backend"`

	// Path is the artifact directory for the local backend.
	Path string `json:"path" mapstructure:"path"`

	// Collection is the Milvus alias that points at the active generation.
	Collection string `json:"collection" mapstructure:"collection"`

	// LedgerPath is the SQLite file recording build history. Empty disables it.
	LedgerPath string `json:"ledger-path" mapstructure:"ledger-path"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Backend:    BackendLocal,
		Path:       "vector_store",
		Collection: "compliance_chunks",
	}
}

// AddFlags adds flags for index options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Backend, p+"index.backend", o.Backend, "Index backend (local|milvus).")
	fs.StringVar(&o.Path, p+"index.path", o.Path, "Directory of the local index artifact.")
	fs.StringVar(&o.Collection, p+"index.collection", o.Collection, "Milvus alias serving the active index generation.")
	fs.StringVar(&o.LedgerPath, p+"index.ledger-path", o.LedgerPath, "SQLite file for index build history (empty disables).")
}

// Validate validates the index options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Backend {
	case BackendLocal:
		if o.Path == "" {
			errs = append(errs, fmt.Errorf("index.path is required for the local backend"))
		}
	case BackendMilvus:
		if o.Collection == "" {
			errs = append(errs, fmt.Errorf("index.collection is required for the milvus backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index.backend %q", o.Backend))
	}
	return errs
}
