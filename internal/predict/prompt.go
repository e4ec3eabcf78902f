// v2
// internal/predict/prompt.go

package predict

import (
	"fmt"
	"strings"

	"moldsense/internal/monitor"
)

const systemInstruction = "You are an environmental analysis assistant. " +
	"You read temperature and humidity data and assess the likelihood of mold growth, " +
	"answering in valid JSON only. Output pure JSON with no preamble, no backticks, " +
	"no comments and no extra prose. The output must parse directly as JSON."

// buildPrompt renders the reading history plus the answer schema the model
// must fill in.
func buildPrompt(readings []monitor.Reading) string {
	var b strings.Builder
	b.WriteString("Here is a series of temperature and humidity readings:\n\n")
	for i, r := range readings {
		fmt.Fprintf(&b, "Reading %d: temperature %.1f°C, humidity %.1f%%\n",
			i+1, r.Temperature, r.Humidity)
	}
	b.WriteString(`
Based on this data, give one overall conclusion about the likelihood of mold growth.

Reply only with JSON in this structure:

{
  "conclusion": "A short conclusion",
  "growthScore": a number from 0 to 10,
  "riskLevel": "low" | "medium" | "high",
  "advice": "Short advice for reducing or controlling mold growth.",
  "rationale": "A short explanation of why this conclusion follows from the data."
}
`)
	return b.String()
}
