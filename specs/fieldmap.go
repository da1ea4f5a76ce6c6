package specs

// OutputField names one column of the row-emission contract.
type OutputField string

const (
	FieldID                    OutputField = "ID"
	FieldTitle                 OutputField = "Title"
	FieldAuthorArtist          OutputField = "Author/Artist"
	FieldDescription           OutputField = "Description"
	FieldDate                  OutputField = "Date"
	FieldResourceType          OutputField = "Resource Type"
	FieldDigitalFormat         OutputField = "Digital Format"
	FieldDimensions            OutputField = "Dimensions"
	FieldURL                   OutputField = "URL"
	FieldSource                OutputField = "Source"
	FieldLanguage              OutputField = "Language"
	FieldSubjectsHistoricalEra OutputField = "Subjects (Historical Era)"
	FieldSubjectsTopicKeywords OutputField = "Subjects (Topic/Keywords)"
	FieldSubjectsGeographic    OutputField = "Subjects (Geographic)"
	FieldImages                OutputField = "Images"
)

// FieldMap maps post-processed record fields onto output columns.
//
// Several record fields may feed the same column; their values are
// concatenated in record-field order.
type FieldMap []FieldMapping

// Row maps one post-processed record onto output columns. Fields the record
// does not carry leave their column out.
func (m FieldMap) Row(record RecordSpec) RowSpec {
	row := make(RowSpec)
	for _, mapping := range m {
		values := record[mapping.RecordField]
		if len(values) == 0 {
			continue
		}
		row[mapping.Column] = append(row[mapping.Column], values...)
	}
	return row
}

// FieldMapping maps one record field to one output column.
type FieldMapping struct {
	RecordField string      `json:"recordField"`
	Column      OutputField `json:"column"`
}

// PTHFieldMap is the column mapping for Portal to Texas History records.
var PTHFieldMap = FieldMap{
	{RecordField: "identifier", Column: FieldID},
	{RecordField: "title", Column: FieldTitle},
	{RecordField: "creator", Column: FieldAuthorArtist},
	{RecordField: "contributor", Column: FieldAuthorArtist},
	{RecordField: "description", Column: FieldDescription},
	{RecordField: "date", Column: FieldDate},
	{RecordField: "type", Column: FieldResourceType},
	{RecordField: "format", Column: FieldDigitalFormat},
	{RecordField: "dimensions", Column: FieldDimensions},
	{RecordField: "url", Column: FieldURL},
	{RecordField: "source", Column: FieldSource},
	{RecordField: "language", Column: FieldLanguage},
	{RecordField: "subjects_hist", Column: FieldSubjectsHistoricalEra},
	{RecordField: "subject", Column: FieldSubjectsTopicKeywords},
	{RecordField: "subjects_geo", Column: FieldSubjectsGeographic},
	{RecordField: "thumbnail", Column: FieldImages},
}

// RowSpec is one emitted row: output column -> values.
type RowSpec map[OutputField][]string
