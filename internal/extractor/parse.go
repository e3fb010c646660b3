package extractor

import (
	"encoding/json"
	"regexp"
	"strings"

	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/types"
)

// FallbackSummary is reported when the model reply cannot be decoded.
const FallbackSummary = "Analysis could not be parsed properly."

var objectSpan = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSON locates the JSON document in a model reply: the whole trimmed
// reply when it starts with '{', otherwise the span from the first '{' to the
// last '}'.
func ExtractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "{") {
		return s, nil
	}
	if span := objectSpan.FindString(s); span != "" {
		return span, nil
	}
	return "", types.ErrUnparsableResponse
}

// FallbackAnalysis is the low-confidence result used for undecodable replies.
func FallbackAnalysis() types.Analysis {
	return types.Analysis{Summary: FallbackSummary, ActionItems: []string{}, KeyDecisions: []string{}}
}

// ParseAnalysis decodes a model reply. It never fails: a reply with no JSON
// object or with invalid JSON yields FallbackAnalysis, and missing or
// mistyped keys default to empty values.
func ParseAnalysis(reply string, log *logger.Logger) types.Analysis {
	doc, err := ExtractJSON(reply)
	if err != nil {
		log.WithError(err).WithField("reply_chars", len(reply)).Warn("analysis reply has no JSON object")
		return FallbackAnalysis()
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		log.WithError(err).Warn("failed to parse analysis JSON")
		return FallbackAnalysis()
	}

	out := types.Analysis{ActionItems: []string{}, KeyDecisions: []string{}}
	if v, ok := raw["summary"]; ok {
		if err := json.Unmarshal(v, &out.Summary); err != nil {
			log.WithError(err).Warn("summary is not a string")
		}
	}
	out.ActionItems = decodeList(raw["action_items"], "action_items", log)
	out.KeyDecisions = decodeList(raw["key_decisions"], "key_decisions", log)
	return out
}

func decodeList(v json.RawMessage, key string, log *logger.Logger) []string {
	list := []string{}
	if len(v) == 0 {
		return list
	}
	if err := json.Unmarshal(v, &list); err != nil || list == nil {
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("analysis list has unexpected shape")
		}
		return []string{}
	}
	return list
}
