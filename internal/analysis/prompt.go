package analysis

// Prompt asks the provider for one strict JSON object describing the capture.
const Prompt = `Analyze this screenshot of a computer screen and describe what the user is working on.

Respond with ONLY one JSON object, no markdown and no commentary, in exactly this shape:
{
  "summary": "<1-2 sentence summary of the screen>",
  "activities": [
    {
      "name": "<application or site, lowercase>",
      "category": "<development|writing|research|communication|entertainment|other>",
      "purpose": "<what the user is doing with it>",
      "focus_indicators": {
        "attention_level": <integer 0-100>,
        "context_switches": "<low|medium|high>",
        "workspace_organization": "<organized|mixed|scattered>"
      }
    }
  ],
  "context": {
    "primary_task": "<main task in a few words>",
    "attention_state": "<focused|transitioning|scattered>",
    "environment": "<monitors, noise, interruption likelihood>",
    "confidence": <number 0-1>
  }
}

List one activity per visible application. Use "high" context_switches when many unrelated windows or notifications compete for attention.`
