package models

// ReportSubject represents the appraised property of an extracted report
type ReportSubject struct {
	Address      string   `json:"address"`
	District     string   `json:"district,omitempty"`
	BuildingArea *float64 `json:"building_area,omitempty"`
	Usage        string   `json:"usage,omitempty"`
	UnitPrice    *float64 `json:"unit_price,omitempty"`
}

// ExtractedCase represents one comparable case entry as produced by the
// extraction collaborator. Numeric fields are pointers: a nil field was
// missing or unparseable in the source document, which downgrades the
// affected check rather than aborting the pass.
type ExtractedCase struct {
	CaseID       string             `json:"case_id"`
	Address      string             `json:"address,omitempty"`
	District     string             `json:"district,omitempty"`
	Street       string             `json:"street,omitempty"`
	Usage        string             `json:"usage,omitempty"`
	Area         *float64           `json:"area,omitempty"`
	UnitPrice    *float64           `json:"unit_price,omitempty"`
	ActualTotal  *float64           `json:"actual_total,omitempty"`
	BuildYear    *int               `json:"build_year,omitempty"`
	CurrentFloor *int               `json:"current_floor,omitempty"`
	TotalFloor   *int               `json:"total_floor,omitempty"`
	Orientation  string             `json:"orientation,omitempty"`
	Decoration   string             `json:"decoration,omitempty"`
	Structure    string             `json:"structure,omitempty"`
	Corrections  map[string]float64 `json:"corrections,omitempty"`
	Extra        CaseExtra          `json:"extra,omitempty"`
}

// ExtractedReport represents the normalized output of the extraction
// collaborator for one submitted document
type ExtractedReport struct {
	Filename   string          `json:"filename,omitempty"`
	ReportType ReportType      `json:"report_type"`
	Subject    ReportSubject   `json:"subject"`
	Cases      []ExtractedCase `json:"cases"`
	// ReviewText is the free-text body handed to the semantic reviewer
	ReviewText string `json:"review_text,omitempty"`
}
