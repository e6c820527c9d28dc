package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrGenerationFailed indicates the reply generator could not produce text.
// The pipeline substitutes the fallback reply so the customer is never left
// without an answer.
var ErrGenerationFailed = errors.New("engine: reply generation failed")

// FallbackReply is sent whenever reply authoring fails for any reason.
const FallbackReply = "Sorry, I'm having a little trouble right now. A team member will get back to you shortly!"

// GenerateRequest carries the context a generator may use to author a reply.
type GenerateRequest struct {
	UserName  string
	VIP       bool
	Text      string
	History   []string
	Complaint *ComplaintResult
}

// Generator authors conversational replies. Implementations wrap whatever
// model or template system the deployment uses; the engine only relies on
// this boundary.
type Generator interface {
	// GenerateDirect authors a routine reply.
	GenerateDirect(ctx context.Context, req GenerateRequest) (string, error)
	// GenerateEscalated authors a careful reply for complaints and VIPs.
	GenerateEscalated(ctx context.Context, req GenerateRequest) (string, error)
}

// TemplateGenerator is the default deterministic generator. It covers the
// common salon questions well enough to run without a model backend.
type TemplateGenerator struct {
	businessName string
}

// NewTemplateGenerator creates a generator for the given business name.
func NewTemplateGenerator(businessName string) *TemplateGenerator {
	if businessName == "" {
		businessName = "the salon"
	}
	return &TemplateGenerator{businessName: businessName}
}

func (g *TemplateGenerator) GenerateDirect(_ context.Context, req GenerateRequest) (string, error) {
	lower := strings.ToLower(req.Text)
	switch {
	case strings.Contains(lower, "hour") || strings.Contains(lower, "open"):
		return fmt.Sprintf("We're open Tuesday to Saturday, 9am to 6pm. Would you like to book a visit to %s?", g.businessName), nil
	case strings.Contains(lower, "price") || strings.Contains(lower, "cost") || strings.Contains(lower, "how much"):
		return "Prices depend on the service and stylist. Tell me what you're after and I'll give you a quote, or I can book you a consultation.", nil
	case strings.Contains(lower, "where") || strings.Contains(lower, "address") || strings.Contains(lower, "location"):
		return fmt.Sprintf("You'll find %s at 14 Rosewood Lane, right by the market square. Want me to book you in?", g.businessName), nil
	case strings.Contains(lower, "thank"):
		return "You're very welcome! Anything else I can help with?", nil
	default:
		greeting := "Hi"
		if req.UserName != "" {
			greeting = "Hi " + firstName(req.UserName)
		}
		return fmt.Sprintf("%s! Thanks for messaging %s. I can help with bookings, prices and opening hours. What can I do for you?", greeting, g.businessName), nil
	}
}

func (g *TemplateGenerator) GenerateEscalated(_ context.Context, req GenerateRequest) (string, error) {
	if req.Complaint != nil && req.Complaint.Detected {
		return "I'm really sorry to hear that. I've flagged this for our manager, who will be in touch with you personally as soon as possible.", nil
	}
	greeting := "Hello"
	if req.UserName != "" {
		greeting = "Hello " + firstName(req.UserName)
	}
	return fmt.Sprintf("%s! Lovely to hear from you. I've let the team know you're in touch. How can we help today?", greeting), nil
}

func firstName(full string) string {
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}
