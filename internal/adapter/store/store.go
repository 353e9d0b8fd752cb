// Package store defines the interfaces of the file decoders.
package store

import "go.ngs.io/metnorm/internal/domain"

// GridDecoder is the interface for decoding gridded files
type GridDecoder interface {
	// Decode reads a gridded file; formatHint may be empty
	Decode(path, formatHint string) (*domain.Table, *domain.DecodeReport, error)
}

// BlockReader is the interface for reading block HDF5 files
type BlockReader interface {
	// Read reconstructs the two-block predictions table stored in the file's data group
	Read(path string) (*domain.Table, *domain.DecodeReport, error)
	// ReadFrame reads every block of a pandas frame, keeping per-row dates
	ReadFrame(path string) (*domain.Table, *domain.DecodeReport, error)
}
