package specs

// RecordSpec is one normalized harvest record.
//
// Every field maps to an ordered list of string values, because protocol
// records routinely repeat elements (several subjects, a bare identifier and a
// URL identifier, one set token per partner and collection). Produced by the
// record normalizer, consumed by the rule engine and the field post-processor,
// and handed to row emission unchanged in shape.
//
// Well-known fields:
//   - "identifier": bare and URL-form identifiers, split apart by post-processing
//   - "setSpec": protocol set-membership tokens such as "partner:HHCT"
//   - "title", "description": searched by keyword filters
//   - "format", "coverage": split by post-processing
type RecordSpec map[string][]string

// Normalize flattens one raw protocol record element into a RecordSpec.
//
// Implementations must be deterministic and free of side effects.
type Normalize func(rawRecord []byte) (RecordSpec, error)

// PostProcess splits composite field values of accepted records before they
// are handed to row emission.
type PostProcess func(records []RecordSpec, config PostProcessConfigSpec) ([]RecordSpec, error)

// PostProcessConfigSpec controls the field post-processor.
type PostProcessConfigSpec struct {
	// Heuristic used to separate physical dimensions from format descriptors.
	//
	// "dimension-pattern" treats values with a digit followed eventually by an
	// x/X (or the reverse) as dimensions. "known-formats" treats values found in
	// KnownFormats as formats and everything else as dimensions. Defaults to
	// "dimension-pattern".
	FormatHeuristic string `json:"formatHeuristic,omitempty" yaml:"format_heuristic,omitempty"`

	// Format vocabulary for the "known-formats" heuristic.
	//
	// Compared case-insensitively. Defaults to ["image", "text"].
	KnownFormats []string `json:"knownFormats,omitempty" yaml:"known_formats,omitempty"`

	// Path segment appended to the first URL identifier to build the thumbnail
	// link. Defaults to "thumbnail".
	ThumbnailSegment string `json:"thumbnailSegment,omitempty" yaml:"thumbnail_segment,omitempty"`
}
