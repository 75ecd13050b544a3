package usecase

import (
	"fmt"
	"strings"

	"github.com/cleanaz-dev/sp-academy/domain"
)

const replySystemPrompt = `You are a friendly conversation partner helping a learner practice %s.
Scenario: %s
Suggested dialogue: %s
Vocabulary to encourage: %s
You speak as a %s character. The learner's native language is %s.

Answer the learner's last message in %s with one or two short sentences that keep the scenario going.
Respond with JSON only:
{"targetLanguageText": "<your reply in %s>", "nativeLanguageText": "<your reply translated to %s>", "messageTranslation": "<the learner's message translated to %s>"}`

const scoreSystemPrompt = `You grade a language learner's message in %s during the scenario "%s".
Vocabulary the learner should use: %s

Grade the learner's last message in context of the conversation.
Respond with JSON only:
{"label": "Excellent|Great|Good|OK|Poor", "score": <0-100>, "improvedResponse": "<a more natural phrasing>", "corrections": {"<grammar|vocabulary|pronunciation|style>": {"replacement": "<fix>", "rationale": "<short reason>"}}}
Omit corrections when the message is correct.`

const analyzeSpeechPrompt = `Assess the pronunciation of the attached recording. The speaker intended to say:
"%s"
Expected accent: %s

Respond with JSON only:
{"accuracyScore": <0-100>, "fluencyScore": <0-100>, "completenessScore": <0-100>, "pronScore": <0-100>, "words": [{"word": "<word>", "accuracyScore": <0-100>, "errorType": "<None|Mispronunciation|Omission|Insertion>"}]}`

func buildReplyPrompt(req domain.ReplyRequest) string {
	native := orDefault(req.NativeLanguage, "English")
	gender := orDefault(req.VoiceGender, "female")
	return fmt.Sprintf(replySystemPrompt,
		req.TargetLanguage,
		orDefault(req.Title, "free conversation"),
		orDefault(req.Dialogue, "none"),
		orDefault(strings.Join(req.Vocabulary, ", "), "none"),
		gender, native,
		req.TargetLanguage, req.TargetLanguage, native, native)
}

func buildScorePrompt(req domain.ScoreRequest) string {
	return fmt.Sprintf(scoreSystemPrompt,
		req.TargetLanguage,
		orDefault(req.Title, "free conversation"),
		orDefault(strings.Join(req.Vocabulary, ", "), "none"))
}

func buildAnalyzePrompt(req domain.AnalyzeSpeechRequest) string {
	return fmt.Sprintf(analyzeSpeechPrompt, req.Transcript, orDefault(req.Dialect, "standard"))
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
