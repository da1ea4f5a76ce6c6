package internal

import (
	"fmt"
	"regexp"
	"strings"

	specs "github.com/chrisconley/rhizome/specs"
)

const (
	HeuristicDimensionPattern = "dimension-pattern"
	HeuristicKnownFormats     = "known-formats"

	defaultThumbnailSegment = "thumbnail"
)

var (
	dimensionPattern = regexp.MustCompile(`\d.*[xX]|[xX].*\d`)
	digitPattern     = regexp.MustCompile(`\d`)

	defaultKnownFormats = []string{"image", "text"}
)

// PostProcess implements specs.PostProcess.
func PostProcess(recordSpecs []specs.RecordSpec, configSpec specs.PostProcessConfigSpec) ([]specs.RecordSpec, error) {
	processor, err := NewPostProcessor(configSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid post-process config: %w", err)
	}

	out := make([]specs.RecordSpec, len(recordSpecs))
	for i, spec := range recordSpecs {
		out[i] = processor.Apply(NewRecord(spec)).ToSpec()
	}
	return out, nil
}

// FormatHeuristic tells genuine format descriptors apart from physical
// dimensions in a record's format values.
type FormatHeuristic interface {
	IsFormat(value string) bool
}

// DimensionPattern treats values containing a digit and an x/X as dimensions.
type DimensionPattern struct{}

func (DimensionPattern) IsFormat(value string) bool {
	return !dimensionPattern.MatchString(value)
}

// KnownFormatVocabulary treats only values from a fixed vocabulary as formats.
type KnownFormatVocabulary struct {
	formats map[string]bool
}

func NewKnownFormatVocabulary(formats []string) KnownFormatVocabulary {
	set := make(map[string]bool, len(formats))
	for _, f := range formats {
		set[strings.ToLower(f)] = true
	}
	return KnownFormatVocabulary{formats: set}
}

func (v KnownFormatVocabulary) IsFormat(value string) bool {
	return v.formats[strings.ToLower(value)]
}

type PostProcessor struct {
	heuristic        FormatHeuristic
	thumbnailSegment string
}

func NewPostProcessor(spec specs.PostProcessConfigSpec) (PostProcessor, error) {
	var heuristic FormatHeuristic
	switch spec.FormatHeuristic {
	case "", HeuristicDimensionPattern:
		heuristic = DimensionPattern{}
	case HeuristicKnownFormats:
		formats := spec.KnownFormats
		if len(formats) == 0 {
			formats = defaultKnownFormats
		}
		heuristic = NewKnownFormatVocabulary(formats)
	default:
		return PostProcessor{}, fmt.Errorf("%w: unknown format heuristic %q", ErrInvalidConfig, spec.FormatHeuristic)
	}

	segment := strings.Trim(spec.ThumbnailSegment, "/")
	if segment == "" {
		segment = defaultThumbnailSegment
	}

	return PostProcessor{heuristic: heuristic, thumbnailSegment: segment}, nil
}

// Apply returns a copy of record with composite fields split.
func (p PostProcessor) Apply(record Record) Record {
	out := NewRecord(record.ToSpec())

	if formats := record.Values("format"); len(formats) > 0 {
		f, d := SplitFormats(formats, p.heuristic)
		out.Set("format", f)
		out.Set("dimensions", d)
	}

	ids, urls := SplitIdentifiers(record.Values(identifierField))
	out.Set(identifierField, ids)
	out.Set("url", urls)
	if len(urls) > 0 {
		out.Set("thumbnail", []string{ThumbnailURL(urls[0], p.thumbnailSegment)})
	}

	if coverage := record.Values("coverage"); len(coverage) > 0 {
		hist, geo := SplitCoverage(coverage)
		out.Set("subjects_hist", hist)
		out.Set("subjects_geo", geo)
	}

	return out
}

func SplitFormats(values []string, heuristic FormatHeuristic) (formats []string, dimensions []string) {
	formats, dimensions = []string{}, []string{}
	for _, v := range values {
		if heuristic.IsFormat(v) {
			formats = append(formats, v)
		} else {
			dimensions = append(dimensions, v)
		}
	}
	return formats, dimensions
}

// SplitIdentifiers moves http(s) identifiers into urls.
func SplitIdentifiers(values []string) (ids []string, urls []string) {
	ids, urls = []string{}, []string{}
	for _, v := range values {
		lower := strings.ToLower(v)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			urls = append(urls, v)
		} else {
			ids = append(ids, v)
		}
	}
	return ids, urls
}

// ThumbnailURL joins url and segment with exactly one slash.
func ThumbnailURL(url string, segment string) string {
	return strings.TrimRight(url, "/") + "/" + strings.TrimLeft(segment, "/")
}

// SplitCoverage separates historical (anything with a digit) from geographic
// coverage values.
func SplitCoverage(values []string) (historical []string, geographic []string) {
	historical, geographic = []string{}, []string{}
	for _, v := range values {
		if digitPattern.MatchString(v) {
			historical = append(historical, v)
		} else {
			geographic = append(geographic, v)
		}
	}
	return historical, geographic
}

// ToRows maps post-processed records onto output columns.
func ToRows(records []specs.RecordSpec, fieldMap specs.FieldMap) []specs.RowSpec {
	rows := make([]specs.RowSpec, 0, len(records))
	for _, record := range records {
		rows = append(rows, fieldMap.Row(record))
	}
	return rows
}
