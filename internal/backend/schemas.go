package backend

import "google.golang.org/genai"

// Schema ids known to the structured backend. Structured bots reference one
// of these in their configuration.
const (
	SchemaListItems      = "list_items"
	SchemaCodeVariants   = "code_variants"
	SchemaCalendarEvents = "calendar_events"
	SchemaChatReply      = "chat_reply"
)

var schemas = map[string]*genai.Schema{
	SchemaListItems: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"items": {
				Type:        genai.TypeArray,
				Description: "Discrete list items answering the prompt, in order.",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"items"},
	},
	SchemaCodeVariants: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"reasoning": {
				Type:        genai.TypeString,
				Description: "Running explanation of the approach being taken.",
			},
			"variants": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name": {Type: genai.TypeString},
						"code": {Type: genai.TypeString},
					},
					Required: []string{"name", "code"},
				},
			},
		},
		Required: []string{"variants"},
	},
	SchemaCalendarEvents: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"events": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title":    {Type: genai.TypeString},
						"start":    {Type: genai.TypeString},
						"end":      {Type: genai.TypeString},
						"location": {Type: genai.TypeString},
					},
					Required: []string{"title", "start"},
				},
			},
		},
		Required: []string{"events"},
	},
	SchemaChatReply: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"reasoning": {Type: genai.TypeString},
			"reply":     {Type: genai.TypeString},
		},
		Required: []string{"reply"},
	},
}

// KnownSchema reports whether a schema id is registered.
func KnownSchema(id string) bool {
	_, ok := schemas[id]
	return ok
}
