package prompts

// baseSystemTemplate is the default persona: a polite Japanese-speaking
// assistant that reaches for current_time when asked about the date.
const baseSystemTemplate = `あなたは親切で知識豊富なAIアシスタントです。
ユーザーの質問に日本語で丁寧に答えてください。
現在の日時を聞かれた場合は、current_timeツールを使用して正確な時刻を取得してください。
回答は簡潔かつ分かりやすくしてください。`

// SystemPrompt returns the default system prompt.
func SystemPrompt() string {
	return baseSystemTemplate
}
