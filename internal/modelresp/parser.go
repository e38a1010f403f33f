// Package modelresp turns raw generated text into structured pieces: an
// optional reasoning segment, embedded tool-call requests, and the
// user-facing content. Models that emit the tagged transcript format
// (<|start|>...<|channel|>...<|message|>...<|end|>) are unwrapped; plain text
// passes through unchanged.
package modelresp

import (
	"regexp"
	"strings"
)

const (
	tokenOpen  = "<|"
	tokenClose = "|>"
	tagStart   = "start"
	tagEnd     = "end"
	tagChannel = "channel"
	tagMessage = "message"
	tagFinal   = "final"

	roleAssistant = "assistant"

	channelThink     = "think"
	channelReasoning = "reasoning"
)

var reasoningWrapperRE = regexp.MustCompile(`(?s)<(think|thinking|reasoning)>(.*?)</(?:think|thinking|reasoning)>`)

// ParsedResponse is the structured view of one block of generated text. It is
// recomputed from scratch on every Parse call and never persisted.
type ParsedResponse struct {
	Reasoning string
	ToolCalls []ToolCall
	Content   string
	Raw       string

	Channels []string
	Metadata map[string]string
}

// Legacy is the older two-field transcript shape some integrations still
// consume.
type Legacy struct {
	FinalMessage string
	Channels     []string
	Metadata     map[string]string
}

// Legacy derives the older shape from the full result.
func (p ParsedResponse) Legacy() Legacy {
	return Legacy{
		FinalMessage: p.Content,
		Channels:     p.Channels,
		Metadata:     p.Metadata,
	}
}

// Parse extracts reasoning, tool calls and content from raw generated text.
// Tool-call extraction always runs over the entire raw input, not just the
// transcript-derived content, so calls embedded anywhere are found.
func Parse(raw string) ParsedResponse {
	result := ParsedResponse{
		Raw:      raw,
		Content:  raw,
		Metadata: map[string]string{},
	}

	result.ToolCalls = ExtractToolCalls(raw)

	channelText := map[string]string{}
	if hasTranscript(raw) {
		content, channels, metadata, perChannel := parseTranscript(raw)
		if content != "" {
			result.Content = content
		}
		result.Channels = channels
		result.Metadata = metadata
		channelText = perChannel
	}

	result.Reasoning = extractReasoning(raw, channelText)
	return result
}

func hasTranscript(raw string) bool {
	return strings.Contains(raw, tokenOpen+tagStart+tokenClose) &&
		strings.Contains(raw, tokenOpen+tagEnd+tokenClose)
}

// parseTranscript walks every complete <|start|>...<|end|> block. Blocks
// missing their end marker are dropped as incomplete emissions. The returned
// content is the accumulated text of the last block that produced any.
func parseTranscript(raw string) (content string, channels []string, metadata map[string]string, perChannel map[string]string) {
	metadata = map[string]string{}
	perChannel = map[string]string{}
	seenChannel := map[string]bool{}

	startMarker := tokenOpen + tagStart + tokenClose
	endMarker := tokenOpen + tagEnd + tokenClose

	blocks := strings.Split(raw, startMarker)
	for _, block := range blocks[1:] {
		endIdx := strings.Index(block, endMarker)
		if endIdx < 0 {
			continue
		}
		blockText := parseBlock(block[:endIdx], &channels, seenChannel, metadata, perChannel)
		if blockText != "" {
			content = blockText
		}
	}
	return content, channels, metadata, perChannel
}

// parseBlock scans one block's <|tag|>value segments. A channel tag switches
// the active channel, message/final tags accumulate text, the reserved
// assistant role is skipped, and anything else lands in metadata.
func parseBlock(block string, channels *[]string, seenChannel map[string]bool, metadata, perChannel map[string]string) string {
	activeChannel := ""
	var parts []string

	// The text before the first inner tag is the role emitted right after
	// <|start|>; treat it like a tag value keyed by "role".
	segments := splitSegments(block)
	for _, seg := range segments {
		value := strings.TrimSpace(seg.value)
		switch seg.tag {
		case "role":
			if value != "" && value != roleAssistant {
				metadata["role"] = value
			}
		case tagChannel:
			activeChannel = value
			if activeChannel != "" && !seenChannel[activeChannel] {
				seenChannel[activeChannel] = true
				*channels = append(*channels, activeChannel)
			}
		case tagMessage, tagFinal:
			if value == "" {
				continue
			}
			parts = append(parts, value)
			if activeChannel != "" {
				if existing := perChannel[activeChannel]; existing != "" {
					perChannel[activeChannel] = existing + " " + value
				} else {
					perChannel[activeChannel] = value
				}
			}
		case roleAssistant:
			// Reserved role tag, ignored.
		default:
			if value != "" {
				metadata[seg.tag] = value
			}
		}
	}
	return strings.Join(parts, " ")
}

type segment struct {
	tag   string
	value string
}

// splitSegments turns "assistant<|channel|>final<|message|>Hi!" into
// {role assistant} {channel final} {message Hi!}.
func splitSegments(block string) []segment {
	var segments []segment
	rest := block
	tag := "role"
	for {
		open := strings.Index(rest, tokenOpen)
		if open < 0 {
			segments = append(segments, segment{tag: tag, value: rest})
			return segments
		}
		closeIdx := strings.Index(rest[open:], tokenClose)
		if closeIdx < 0 {
			segments = append(segments, segment{tag: tag, value: rest})
			return segments
		}
		segments = append(segments, segment{tag: tag, value: rest[:open]})
		tag = rest[open+len(tokenOpen) : open+closeIdx]
		rest = rest[open+closeIdx+len(tokenClose):]
	}
}

// extractReasoning applies the priority order: explicit wrapper tags in the
// raw text, then a "think" transcript channel, then a "reasoning" one.
func extractReasoning(raw string, channelText map[string]string) string {
	if match := reasoningWrapperRE.FindStringSubmatch(raw); match != nil {
		return strings.TrimSpace(match[2])
	}
	if text, ok := channelText[channelThink]; ok && text != "" {
		return text
	}
	if text, ok := channelText[channelReasoning]; ok && text != "" {
		return text
	}
	return ""
}
