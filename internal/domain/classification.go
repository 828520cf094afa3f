package domain

import "strings"

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func ParseDecision(s string) (Decision, bool) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionApprove:
		return DecisionApprove, true
	case DecisionReject:
		return DecisionReject, true
	}
	return "", false
}

// RejectionCause records which safety branch produced a rejection.
type RejectionCause string

const (
	CauseNone           RejectionCause = ""
	CauseCrisis         RejectionCause = "crisis"
	CauseIdentifiable   RejectionCause = "identifiable"
	CauseUnconstructive RejectionCause = "unconstructive"
)

func ParseRejectionCause(s string) RejectionCause {
	switch RejectionCause(strings.ToLower(strings.TrimSpace(s))) {
	case CauseCrisis:
		return CauseCrisis
	case CauseIdentifiable, "privacy", "identifying":
		return CauseIdentifiable
	case CauseUnconstructive, "spam", "attack", "promotional":
		return CauseUnconstructive
	}
	return CauseNone
}

// AlternativePost is a ready-to-post de-identified rewrite offered when the
// original was rejected for identifiability. Never offered for crisis content.
type AlternativePost struct {
	Title    string   `json:"title"`
	Body     string   `json:"content"`
	ClearAsk string   `json:"clear_ask,omitempty"`
	Topics   []string `json:"topics"`
}

type ClassificationResult struct {
	Decision                  Decision         `json:"decision"`
	Reason                    string           `json:"reason"`
	Confidence                float64          `json:"confidence"`
	Topics                    []string         `json:"topics"`
	Suggestions               string           `json:"suggestions,omitempty"`
	RecommendProfessionalHelp bool             `json:"recommend_professional_help"`
	Crisis                    bool             `json:"crisis"`
	Cause                     RejectionCause   `json:"rejection_cause,omitempty"`
	AlternativePost           *AlternativePost `json:"alternative_post,omitempty"`
}

// CrisisIndicated reports whether any crisis signal is present on the result.
func (r ClassificationResult) CrisisIndicated() bool {
	return r.Crisis || r.Cause == CauseCrisis || r.RecommendProfessionalHelp
}

func (r ClassificationResult) Approved() bool {
	return r.Decision == DecisionApprove
}

type AnonymizedDraft struct {
	Title         string   `json:"title"`
	Body          string   `json:"content"`
	ClearAsk      string   `json:"clear_ask"`
	Topics        []string `json:"topics"`
	SafeToPublish bool     `json:"safe_to_publish"`
	SafetyNotes   string   `json:"safety_notes,omitempty"`
}

func (d AnonymizedDraft) Empty() bool {
	return strings.TrimSpace(d.Body) == ""
}

// AsAlternative converts a finalized draft into an alternative post.
func (d AnonymizedDraft) AsAlternative() *AlternativePost {
	return &AlternativePost{
		Title:    d.Title,
		Body:     d.Body,
		ClearAsk: d.ClearAsk,
		Topics:   append([]string(nil), d.Topics...),
	}
}

type UnifiedAnalysisResult struct {
	JournalTitle      string               `json:"journal_title"`
	PrivateReflection string               `json:"private_reflection"`
	Safety            ClassificationResult `json:"safety_check"`
	SuggestedPost     AnonymizedDraft      `json:"suggested_post"`
}
