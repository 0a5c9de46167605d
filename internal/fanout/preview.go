package fanout

const previewLimit = 50

// Preview renders the notification body for a chat message: the first 50
// characters of the text with an ellipsis when truncated. Empty text falls
// back to a generic body so the notification still reads sensibly.
func Preview(text string) string {
	if text == "" {
		return emptyMessageBody
	}
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "..."
}
