package vision

import (
	"fmt"

	"github.com/sashabaranov/go-openai"

	"lid-inspector/internal/domain"
)

const (
	glareText   = "Ignore any small specular highlights from lighting glare."
	noBrandText = "Ignore branding—only evaluate surface quality and color consistency."
	imagePrompt = "Here is the image to inspect:"
)

// LevelGuidance maps a strictness level to the inspection criteria given to the model.
var LevelGuidance = map[int]string{
	1: "Accept almost everything; only reject truly broken lids (massive print dropout, huge holes).",
	2: "Accept minor print or placement issues; reject moderate flaws like small streaks or light scratches.",
	3: "Balanced: readability and centering are key; reject if branding is blurry, misaligned, or partially missing.",
	4: "Strict: reject even subtle ink inconsistencies, small misalignments, or any visible print defect.",
	5: "Very strict: only perfect lids pass; reject for any minor imperfection.",
}

// ReferenceExample is a labelled lid photo used as a few-shot hint.
type ReferenceExample struct {
	URL         string
	Explanation string
}

// ReferenceExamples are sent ahead of the frame unless no-brand mode is on.
var ReferenceExamples = []ReferenceExample{
	{URL: "https://i.imgur.com/xXbGo0g.jpeg", Explanation: "ACCEPT - Clean IML sticker, clear and centered branding."},
	{URL: "https://i.imgur.com/NDmSVPz.jpeg", Explanation: "REJECT - White streaks are clearly visible in the print layer."},
	{URL: "https://i.imgur.com/12zH9va.jpeg", Explanation: "ACCEPT - Shine is due to lighting reflection, not a defect."},
}

// Guidance returns the criteria text for a strictness level, falling back to the balanced level.
func Guidance(level int) string {
	if g, ok := LevelGuidance[level]; ok {
		return g
	}
	return LevelGuidance[domain.DefaultStrictness]
}

// SystemPrompt renders the inspector instructions for the given settings.
func SystemPrompt(settings domain.Settings) string {
	focus := glareText + " " + Guidance(settings.Strictness)
	if settings.NoBrand {
		focus = glareText + " " + noBrandText
	}
	return fmt.Sprintf(
		"You are a veteran factory QA inspector examining a single top-down photo of a plastic trash-can lid. "+
			"At strictness level %d/5, apply this: %s "+
			"Then respond with exactly 'ACCEPT - reason (Confidence: XX%%)' or 'REJECT - reason (Confidence: XX%%)'.",
		settings.Strictness, focus,
	)
}

// BuildMessages assembles the chat transcript for one frame encoded as a data URI.
func BuildMessages(settings domain.Settings, dataURI string) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(settings)},
	}
	if !settings.NoBrand {
		for _, ex := range ReferenceExamples {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("%s Image: %s", ex.Explanation, ex.URL),
			})
		}
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: imagePrompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURI,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	})
	return messages
}
