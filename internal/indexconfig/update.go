package indexconfig

import (
	"fmt"
	"reflect"
)

// CheckUpdate reports whether next may replace current. The index ID and the
// existing field mappings are immutable; new fields may be appended and the
// indexing, search and retention settings may change freely.
func CheckUpdate(current, next *IndexConfig) error {
	if current.IndexID != next.IndexID {
		return fmt.Errorf("%w: index_id cannot change (%q -> %q)", ErrForbiddenUpdate, current.IndexID, next.IndexID)
	}
	if len(next.DocMapping.FieldMappings) < len(current.DocMapping.FieldMappings) {
		return fmt.Errorf("%w: field mappings cannot be removed", ErrForbiddenUpdate)
	}
	for i, f := range current.DocMapping.FieldMappings {
		if !reflect.DeepEqual(f, next.DocMapping.FieldMappings[i]) {
			return fmt.Errorf("%w: field mapping %q cannot be modified", ErrForbiddenUpdate, f.Name)
		}
	}
	if current.DocMapping.TimestampField != next.DocMapping.TimestampField {
		return fmt.Errorf("%w: timestamp_field cannot change", ErrForbiddenUpdate)
	}
	if current.DocMapping.Mode != next.DocMapping.Mode {
		return fmt.Errorf("%w: doc_mapping.mode cannot change", ErrForbiddenUpdate)
	}
	if current.DocMapping.PartitionKey != next.DocMapping.PartitionKey {
		return fmt.Errorf("%w: partition_key cannot change", ErrForbiddenUpdate)
	}
	if !reflect.DeepEqual(current.DocMapping.TagFields, next.DocMapping.TagFields) {
		return fmt.Errorf("%w: tag_fields cannot change", ErrForbiddenUpdate)
	}
	if next.IndexURI != "" && current.IndexURI != next.IndexURI {
		return fmt.Errorf("%w: index_uri cannot change", ErrForbiddenUpdate)
	}
	return nil
}
