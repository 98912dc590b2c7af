package llmtutor

import (
	"fmt"
	"strings"
)

const correctionPrompt = `You are an AI language coach. A user is practicing a language and you need to correct their message.
Analyze the user's message and provide a correction, a brief explanation, and classify the error type.
Then continue the conversation naturally with a short reply in the language being practiced.

The language being practiced is: "%s"
The user's native language is: "%s"
%s
You must respond with a JSON object with the following structure:
{
  "corrected": "The corrected version of the user's message.",
  "explanation": "A brief and simple explanation of the correction, written in the user's native language.",
  "errorType": "The type of error. Choose one of: tense, preposition, grammar, word_choice, syntax, or null if no error was found.",
  "reply": "A short conversational reply to the message, in the language being practiced."
}

If the user's message is correct and needs no changes, respond with the original message in the "corrected" field, an empty string in the "explanation" field, and null for the "errorType". Always include a "reply".

Do not add any text before or after the JSON object.`

const practicePrompt = `You are an AI language coach. Generate a practice exercise for a user learning a language.
If a specific error type is provided, create an exercise that helps the user practice avoiding that error.
If the error type is "general", create a general sentence for translation or correction.

The target language (the one the user is learning) is: "%[1]s"
The user's native language is: "%[2]s"
Targeted error type: "%[3]s"

Important: If you generate a translation exercise, it MUST be between "%[1]s" and "%[2]s". Do NOT use any other languages.

You must respond with a JSON object with the following structure:
{
  "type": "The type of exercise (e.g., 'fill_in_the_blank', 'translate', 'correct_the_sentence').",
  "sentence": "The sentence for the user to work with.",
  "correct_answer": "The correct answer for the exercise."
}

Do not add any text before or after the JSON object.`

func buildCorrectionPrompt(target, native, topic string) string {
	var topicLine string
	if topic = strings.TrimSpace(topic); topic != "" {
		topicLine = fmt.Sprintf("The current conversation topic is: %q. Keep your reply on topic.\n", topic)
	}
	return fmt.Sprintf(correctionPrompt, target, native, topicLine)
}

func buildPracticePrompt(target, native, errorType string) string {
	return fmt.Sprintf(practicePrompt, target, native, errorType)
}
