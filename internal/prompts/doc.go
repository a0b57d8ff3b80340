// Package prompts holds the text AgentCore sends to the model: the
// assistant persona and the reduction of a conversation history into a
// single prompt string.
//
// Prompt text is Go code rather than config because it is program logic
// and can be checked by tests. Operators may still replace the persona
// through agent.system_prompt in config.yaml.
package prompts
