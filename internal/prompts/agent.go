package prompts

// EmptyResponseNudge is sent when the model ran tools but then replied
// with nothing, giving it one more chance to answer the user.
const EmptyResponseNudge = "ツールの実行結果を踏まえて、ユーザーへの回答を日本語で作成してください。"

// EmptyResponseFallback is returned to the user when the model produces
// no content even after a nudge.
const EmptyResponseFallback = "申し訳ありません。回答を生成できませんでした。もう一度お試しください。"

// MaxIterationsNudge asks for a final text answer once the tool budget
// is exhausted.
const MaxIterationsNudge = "これ以上ツールは使えません。ここまでの情報で回答してください。"
