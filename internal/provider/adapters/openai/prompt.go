package openai

import (
	"fmt"
	"strings"

	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
	providerdomain "github.com/smallbiznis/mailforge/internal/provider/domain"
)

func textPrompt(req providerdomain.TextRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campaign: %s\n", req.Prompt.CampaignName)
	if req.Prompt.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", req.Prompt.Tone)
	}
	if req.Prompt.ProductName != "" {
		fmt.Fprintf(&b, "Product: %s\n", req.Prompt.ProductName)
	}
	if req.Prompt.ProductDescription != "" {
		fmt.Fprintf(&b, "Product details: %s\n", req.Prompt.ProductDescription)
	}
	b.WriteString("\n")
	b.WriteString(taskInstruction(req.Kind))
	return b.String()
}

func taskInstruction(kind generationdomain.TaskKind) string {
	switch kind {
	case generationdomain.TaskKindSubjectLine:
		return "Write the email subject line. Maximum 60 characters."
	case generationdomain.TaskKindPreviewText:
		return "Write the inbox preview text that follows the subject line. Maximum 100 characters."
	case generationdomain.TaskKindMainHeadline:
		return "Write the headline for the top of the email body."
	case generationdomain.TaskKindMainDescription:
		return "Write the introductory paragraph for the email body. Two to three sentences."
	case generationdomain.TaskKindProductCopy:
		return "Write a short promotional blurb for this product. One to two sentences."
	default:
		return fmt.Sprintf("Write the %s for this campaign.", strings.ReplaceAll(string(kind), "_", " "))
	}
}

func imagePrompt(prompt providerdomain.PromptContext) string {
	var b strings.Builder
	if prompt.ProductName != "" {
		fmt.Fprintf(&b, "Product photograph of %s", prompt.ProductName)
		if prompt.ProductDescription != "" {
			fmt.Fprintf(&b, ", %s", prompt.ProductDescription)
		}
	} else {
		fmt.Fprintf(&b, "Hero image for a marketing email campaign named %q", prompt.CampaignName)
	}
	if prompt.Tone != "" {
		fmt.Fprintf(&b, ". Style: %s", prompt.Tone)
	}
	b.WriteString(". Clean composition, no text overlay.")
	return b.String()
}
