package engine

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/glowdesk/concierge/pkg/logging"
)

var complaintTracer = otel.Tracer("concierge/complaint-detector")

// ComplaintType classifies the kind of complaint detected in a message.
type ComplaintType string

const (
	ComplaintNone    ComplaintType = ""
	ComplaintService ComplaintType = "SERVICE_QUALITY"
	ComplaintStaff   ComplaintType = "STAFF_CONDUCT"
	ComplaintBilling ComplaintType = "BILLING"
	ComplaintRefund  ComplaintType = "REFUND_REQUEST"
	ComplaintGeneral ComplaintType = "GENERAL"
)

// ComplaintResult is the outcome of complaint detection for one message.
type ComplaintResult struct {
	Detected       bool
	Type           ComplaintType
	Confidence     float64
	MatchedKeyword string
}

// ComplaintDetector flags messages that read like complaints so they can be
// routed to a human instead of an automated reply. Pattern matching keeps it
// deterministic; the predicate is pluggable via the Detector interface for
// deployments that want a model-backed classifier.
type ComplaintDetector struct {
	logger   *logging.Logger
	patterns map[ComplaintType][]*complaintPattern
}

type complaintPattern struct {
	regex   *regexp.Regexp
	weight  float64
	keyword string
}

// Detector is the complaint predicate the strategy selector consumes.
type Detector interface {
	DetectComplaint(ctx context.Context, message string) *ComplaintResult
}

// NewComplaintDetector creates the default pattern-based detector.
func NewComplaintDetector(logger *logging.Logger) *ComplaintDetector {
	if logger == nil {
		logger = logging.Default()
	}

	d := &ComplaintDetector{
		logger:   logger,
		patterns: make(map[ComplaintType][]*complaintPattern),
	}

	d.patterns[ComplaintService] = []*complaintPattern{
		{regex: regexp.MustCompile(`(?i)\b(ruined|butchered|botched|destroyed)\s+(my\s+)?(hair|nails|color|colour|cut)\b`), weight: 0.95, keyword: "ruined result"},
		{regex: regexp.MustCompile(`(?i)\b(terrible|awful|horrible|worst)\s+(haircut|service|experience|job)\b`), weight: 0.9, keyword: "terrible service"},
		{regex: regexp.MustCompile(`(?i)\bnot\s+what\s+I\s+asked\s+for\b`), weight: 0.8, keyword: "wrong result"},
		{regex: regexp.MustCompile(`(?i)\b(unhappy|disappointed|dissatisfied)\s+with\b`), weight: 0.75, keyword: "unhappy"},
	}

	d.patterns[ComplaintStaff] = []*complaintPattern{
		{regex: regexp.MustCompile(`(?i)\b(rude|disrespectful|unprofessional)\b`), weight: 0.9, keyword: "rude staff"},
		{regex: regexp.MustCompile(`(?i)\b(ignored|kept\s+me\s+waiting|left\s+me\s+waiting)\b`), weight: 0.75, keyword: "kept waiting"},
	}

	d.patterns[ComplaintBilling] = []*complaintPattern{
		{regex: regexp.MustCompile(`(?i)\b(overcharged?|over\s*charged?)\b`), weight: 0.9, keyword: "overcharged"},
		{regex: regexp.MustCompile(`(?i)\bcharged?\s+(me\s+)?(twice|too\s+much|more\s+than)\b`), weight: 0.9, keyword: "wrong charge"},
		{regex: regexp.MustCompile(`(?i)\bwrong\s+(amount|charge|price)\b`), weight: 0.8, keyword: "wrong amount"},
	}

	d.patterns[ComplaintRefund] = []*complaintPattern{
		{regex: regexp.MustCompile(`(?i)\b(want|need|get)\s+(a\s+|my\s+)?refund\b`), weight: 0.9, keyword: "want refund"},
		{regex: regexp.MustCompile(`(?i)\b(money|deposit)\s+back\b`), weight: 0.85, keyword: "money back"},
	}

	d.patterns[ComplaintGeneral] = []*complaintPattern{
		{regex: regexp.MustCompile(`(?i)\b(complain|complaint)\b`), weight: 0.85, keyword: "complaint"},
		{regex: regexp.MustCompile(`(?i)\bspeak\s+(to|with)\s+(a\s+|the\s+)?(manager|owner|human|person)\b`), weight: 0.9, keyword: "wants manager"},
		{regex: regexp.MustCompile(`(?i)\b(furious|outraged|unacceptable)\b`), weight: 0.8, keyword: "angry"},
	}

	return d
}

// DetectComplaint analyzes one message; the highest-weight match wins.
func (d *ComplaintDetector) DetectComplaint(ctx context.Context, message string) *ComplaintResult {
	_, span := complaintTracer.Start(ctx, "complaint.detect")
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return &ComplaintResult{Detected: false}
	}

	var best *ComplaintResult
	for complaintType, patterns := range d.patterns {
		for _, p := range patterns {
			if p.regex.MatchString(message) {
				if best == nil || p.weight > best.Confidence {
					best = &ComplaintResult{
						Detected:       true,
						Type:           complaintType,
						Confidence:     p.weight,
						MatchedKeyword: p.keyword,
					}
				}
			}
		}
	}
	if best == nil {
		return &ComplaintResult{Detected: false}
	}

	span.SetAttributes(
		attribute.Bool("complaint.detected", true),
		attribute.String("complaint.type", string(best.Type)),
		attribute.Float64("complaint.confidence", best.Confidence),
	)
	d.logger.Info("complaint detected",
		"type", best.Type,
		"confidence", best.Confidence,
		"keyword", best.MatchedKeyword,
	)
	return best
}
