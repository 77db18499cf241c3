package grading

import (
	"fmt"
	"strings"
)

// Rubric maxima. Model output is expected, not guaranteed, to respect them.
const (
	MaxContent  = 0.9
	MaxAccuracy = 0.6
	MaxDelivery = 0.5
	MaxTotal    = 2.0
)

// Metrics are the speech statistics quoted in the prompt.
type Metrics struct {
	Words          int
	Duration       float64 // seconds
	WordsPerMinute float64
}

// ComputeMetrics counts whitespace-separated words and derives the speaking
// pace. A non-positive duration yields a pace of zero.
func ComputeMetrics(transcript string, duration float64) Metrics {
	words := len(strings.Fields(transcript))
	var wpm float64
	if duration > 0 {
		wpm = float64(words) / duration * 60
	}
	return Metrics{Words: words, Duration: duration, WordsPerMinute: wpm}
}

// BuildPrompt renders the examiner prompt for one transcript.
func BuildPrompt(topic, transcript string, m Metrics) string {
	return fmt.Sprintf(promptTemplate, topic, transcript, m.Words, m.Duration, m.WordsPerMinute)
}

const promptTemplate = `You are an expert English speaking examiner. Grade the following speech response based on this rubric:

**Rubric (Total: 2.0 points)**
1. Content (0.9/2.0 points)
   - Sufficiently address all requirements of the test question
   - Develop supporting ideas with relevant reasons and examples
   - Display a range of original and practical ideas

2. Accuracy (0.6/2.0 points)
   - Demonstrate a wide variety of vocabulary and grammatical structures
   - Make correct use of words, grammatical structures and linking devices
   - Demonstrate correct pronunciation with appropriate intonation

3. Delivery (0.5/2.0 points)
   - Maintain fluency throughout
   - Demonstrate effective use of presentation skills

**Topic/Question:** %s

**Speech Transcript:** %s

**Speech Metrics:**
- Total words: %d
- Duration: %.1f seconds
- Speaking pace: %.0f words/minute

**Instructions:**
1. Provide scores for each criterion (rounded to 2 decimal places)
2. Give detailed feedback for each criterion with specific examples from the transcript
3. Point out both strengths and areas for improvement
4. Generate a comprehensive sample 2.0/2.0 response to the same topic that would take approximately 5 minutes to speak (around 600-750 words). The sample should:
   - Start with "My question is... (if question number is provided), and the prompt is... Here is my response." and then answer the question fully
   - End with "This is the end of my speech. Thank you."
   - Be detailed and well-structured with clear introduction, body paragraphs, and conclusion
   - Include specific examples, explanations, and supporting details
   - Demonstrate sophisticated vocabulary and varied sentence structures
   - Show natural flow with appropriate transitions
   - Be comprehensive enough to fill a 5-minute speaking time
   - Be creative in the introduction to hook the listener's attention

Note: 
- Return feedback in bullet points when appropriate to maximize clarity (Strengths, Weaknesses, Suggestions)
- Grade at C2 level of the CEFR framework

**Return your response in this EXACT JSON format:**
{
    "scores": {
        "content": 0.00,
        "accuracy": 0.00,
        "delivery": 0.00,
        "total": 0.00
    },
    "feedback": {
        "content": "Detailed feedback with examples...",
        "accuracy": "Detailed feedback with examples...",
        "delivery": "Detailed feedback with examples..."
    },
    "sample_response": "A complete 2.0/2.0 sample response to the topic..."
}`
