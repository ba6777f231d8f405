package storage

import "polpi-mx/models"

// ListingWriter is the interface any clean-listing sink must satisfy.
type ListingWriter interface {
	Write(listings []*models.Listing) error
	Close() error
}

// RawListingWriter is the interface for persisting unprocessed scraped data.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing) error
	Close() error
}

var (
	_ ListingWriter    = (*PostgresWriter)(nil)
	_ ListingWriter    = (*ListingCSVWriter)(nil)
	_ ListingWriter    = (*XLSXWriter)(nil)
	_ RawListingWriter = (*CSVWriter)(nil)
)
