package triage

import "github.com/target/cognitriage-api/internal/domain/model"

// Stage names. They are also the keys of the per-stage status map returned to clients.
const (
	StageIngestion  = "Ingestion_QC_Agent"
	StageFeatures   = "Imaging_Feature_Agent"
	StageRisk       = "Risk_Stratification_Agent"
	StageEvidence   = "Evidence_RAG_Agent"
	StageNote       = "Clinical_Note_Agent"
	StageCompliance = "Safety_Compliance_Agent"
)

// Image formats recognized by ingestion.
const (
	FormatNIfTI   = "nifti"
	FormatDICOM   = "dicom"
	FormatUnknown = "unknown"
)

// IngestionOutput is produced by the ingestion QC stage.
type IngestionOutput struct {
	AcceptedFormats []string        `json:"accepted_formats"`
	ValidatedScores ValidatedScores `json:"validated_scores"`
	NormalizedHint  string          `json:"normalized_hint"`
	QCReport        QCReport        `json:"qc_report"`
}

// ValidatedScores holds the checked cognitive test score.
type ValidatedScores struct {
	Total int `json:"total"`
}

// QCReport summarizes the intake checks.
type QCReport struct {
	Message string   `json:"message"`
	Files   []string `json:"files"`
}

// HippocampalVolumes are paired left/right volume estimates in millilitres.
type HippocampalVolumes struct {
	LeftML      float64 `json:"left_ml"`
	RightML     float64 `json:"right_ml"`
	AsymmetryML float64 `json:"asymmetry_ml"`
	TotalML     float64 `json:"total_ml"`
}

// Min returns the smaller of the two hemisphere volumes.
func (v HippocampalVolumes) Min() float64 {
	return min(v.LeftML, v.RightML)
}

// Percentiles estimate where each volume falls in a normative population.
type Percentiles struct {
	Left  int `json:"left_pct"`
	Right int `json:"right_pct"`
	Mean  int `json:"mean_pct"`
}

// Thumbnails are optional preview images (base64 PNG); unset without real image analysis.
type Thumbnails struct {
	Axial    *string `json:"axial"`
	Coronal  *string `json:"coronal"`
	Sagittal *string `json:"sagittal"`
}

// FeatureOutput is produced by the imaging feature stage.
type FeatureOutput struct {
	HippocampalVolumes HippocampalVolumes `json:"hippocampal_volumes"`
	MTAScore           int                `json:"mta_score"`
	Percentiles        Percentiles        `json:"percentiles"`
	Thumbnails         Thumbnails         `json:"thumbnails"`
}

// RiskTier is the ordinal triage classification.
type RiskTier string

// Risk tiers in increasing severity.
const (
	RiskLow      RiskTier = "LOW"
	RiskModerate RiskTier = "MODERATE"
	RiskHigh     RiskTier = "HIGH"
	RiskUrgent   RiskTier = "URGENT"
)

// Rank orders tiers by severity.
func (t RiskTier) Rank() int {
	switch t {
	case RiskLow:
		return 0
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	case RiskUrgent:
		return 3
	default:
		return -1
	}
}

// RiskOutput is produced by the risk stratification stage.
type RiskOutput struct {
	RiskTier        RiskTier `json:"risk_tier"`
	ConfidenceScore float64  `json:"confidence_score"`
	KeyRationale    []string `json:"key_rationale"`
	SeverityScore   int      `json:"severity_score"`
}

// Evidence provenance values.
const (
	ProvenanceStatic   = "static"
	ProvenanceLive     = "live"
	ProvenanceFallback = "fallback"
)

// EvidenceOutput is produced by the evidence retrieval stage.
type EvidenceOutput struct {
	Citations  []model.Citation `json:"citations"`
	Provenance string           `json:"provenance"`
	Count      int              `json:"count"`
	Query      string           `json:"query,omitempty"`
}

// PatientInfo is the demographic header of the clinical note.
type PatientInfo struct {
	Age       int    `json:"age"`
	Sex       string `json:"sex"`
	MocaTotal int    `json:"moca_total"`
}

// ImagingFindings restates the feature stage output inside the note.
type ImagingFindings struct {
	HippocampalVolumesML HippocampalVolumes `json:"hippocampal_volumes_ml"`
	MTAScore             int                `json:"mta_score"`
	Percentiles          Percentiles        `json:"percentiles"`
	Thumbnails           Thumbnails         `json:"thumbnails"`
}

// ClinicalNote is produced by the note assembly stage.
type ClinicalNote struct {
	PatientInfo     PatientInfo      `json:"patient_info"`
	ImagingFindings ImagingFindings  `json:"imaging_findings"`
	RiskAssessment  RiskOutput       `json:"risk_assessment"`
	Recommendations []string         `json:"recommendations"`
	Limitations     []string         `json:"limitations"`
	References      []model.Citation `json:"references"`
}

// ComplianceOutput is produced by the safety compliance stage.
type ComplianceOutput struct {
	SafetyApprovedNote  ClinicalNote `json:"safety_approved_note"`
	RequiredDisclaimers []string     `json:"required_disclaimers"`
	RiskAdjusted        RiskOutput   `json:"risk_adjusted"`
}
